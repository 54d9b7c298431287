package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tinytelemetry/tailexplorer/internal/auth"
	"github.com/tinytelemetry/tailexplorer/internal/hub"
	"github.com/tinytelemetry/tailexplorer/internal/metrics"
	"github.com/tinytelemetry/tailexplorer/internal/model"
	"github.com/tinytelemetry/tailexplorer/internal/stream"
)

// Streams is the contract the HTTP layer needs from the stream registry.
type Streams interface {
	Subscribe(id model.SourceID, sub hub.Subscriber) error
	Unsubscribe(id model.SourceID, sub hub.Subscriber)
	RecentLines(id model.SourceID, n int) ([]model.LogLine, error)
	Sources() []stream.SourceSpec
	Spec(id model.SourceID) (stream.SourceSpec, bool)
	Status(id model.SourceID) (stream.Status, error)
}

// Options carries the server's optional collaborators.
type Options struct {
	Gate      *auth.Gate
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	SendQueue int
}

// Server serves the source API, the WebSocket stream endpoint and the
// embedded viewer page.
type Server struct {
	addr      string
	streams   Streams
	gate      *auth.Gate
	metrics   *metrics.Metrics
	log       zerolog.Logger
	sendQueue int

	router   *gin.Engine
	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	startTime time.Time
}

// NewServer creates a new HTTP server.
func NewServer(addr string, streams Streams, opts Options) *Server {
	if addr == "" {
		addr = "0.0.0.0:8000"
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = defaultSendQueue
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:      addr,
		streams:   streams,
		gate:      opts.Gate,
		metrics:   opts.Metrics,
		log:       opts.Logger.With().Str("component", "httpserver").Logger(),
		sendQueue: opts.SendQueue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))

	r.GET("/", s.handleIndex)
	r.GET("/api/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group("/api/sources", s.requireAuth)
	api.GET("", s.handleSources)
	api.GET("/:id", s.handleSource)
	api.GET("/:id/recent", s.handleRecent)

	// Auth failures on the stream endpoint are reported as close codes.
	r.GET("/ws/:id", s.handleStream)
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.router,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http.serve_failed")
		}
	}()
	s.log.Info().Str("addr", listener.Addr().String()).Msg("http.listening")
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server. Open streams see their request
// context cancelled and unsubscribe.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).String(),
		"sources": len(s.streams.Sources()),
	})
}

func (s *Server) handleSources(c *gin.Context) {
	out := make(map[model.SourceID]gin.H)
	for _, sp := range s.streams.Sources() {
		out[sp.ID] = gin.H{
			"name":        sp.Name,
			"description": sp.Description,
			"type":        sp.Type,
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleSource(c *gin.Context) {
	id := model.SourceID(c.Param("id"))
	sp, ok := s.streams.Spec(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": stream.ErrUnknownSource.Error()})
		return
	}
	st, err := s.streams.Status(id)
	if err != nil {
		code, msg := apiError(err)
		c.JSON(code, gin.H{"error": msg})
		return
	}

	body := gin.H{
		"id":                 sp.ID,
		"name":               sp.Name,
		"description":        sp.Description,
		"type":               sp.Type,
		"command":            sp.Command,
		"working_dir":        sp.WorkingDir,
		"active_connections": st.Subscribers,
		"is_running":         st.Running,
		"state":              st.State.String(),
		"buffered_lines":     st.BufferedLines,
	}
	if st.MaxLines > 0 {
		body["max_lines"] = st.MaxLines
	}
	if st.LastError != nil {
		body["last_error"] = st.LastError.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleRecent(c *gin.Context) {
	id := model.SourceID(c.Param("id"))

	count := model.DefaultRecentCount
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "count must be an integer"})
			return
		}
		count = n
	}

	lines, err := s.streams.RecentLines(id, count)
	if err != nil {
		code, msg := apiError(err)
		c.JSON(code, gin.H{"error": msg})
		return
	}
	logs := model.Texts(lines)
	c.JSON(http.StatusOK, gin.H{
		"source_id": id,
		"logs":      logs,
		"count":     len(logs),
	})
}

func apiError(err error) (int, string) {
	switch {
	case errors.Is(err, stream.ErrUnknownSource):
		return http.StatusNotFound, stream.ErrUnknownSource.Error()
	case errors.Is(err, stream.ErrSourceNotActive):
		return http.StatusNotFound, stream.ErrSourceNotActive.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

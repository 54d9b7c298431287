package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/tailexplorer/internal/model"
	"github.com/tinytelemetry/tailexplorer/internal/stream"
)

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (64 KB).
	scannerInitBufSize = 64 * 1024
	// scannerMaxTokenSize is the maximum token size the scanner will accept (1 MB).
	scannerMaxTokenSize = 1024 * 1024
)

// Inspector is the read-only registry view served over the socket.
type Inspector interface {
	Sources() []stream.SourceSpec
	Status(id model.SourceID) (stream.Status, error)
	RecentLines(id model.SourceID, n int) ([]model.LogLine, error)
}

// Server exposes an Inspector over a Unix domain socket using JSON-RPC 2.0.
type Server struct {
	socketPath string
	streams    Inspector
	log        zerolog.Logger
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}
	stopOnce   sync.Once

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer creates a new socket RPC server.
func NewServer(socketPath string, streams Inspector, log zerolog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		streams:    streams,
		log:        log.With().Str("component", "socketrpc").Logger(),
		quit:       make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Path returns the socket path.
func (s *Server) Path() string { return s.socketPath }

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	// Ensure the parent directory exists.
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// Remove stale socket if it exists.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			// Socket file exists but nobody is listening.
			_ = os.Remove(s.socketPath)
		} else {
			_ = conn.Close()
			return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info().Str("path", s.socketPath).Msg("socketrpc.listening")
	return nil
}

// Stop closes the listener and open connections, waits for them to drain and
// removes the socket file. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.mu.Lock()
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		_ = os.Remove(s.socketPath)
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.Warn().Err(err).Msg("socketrpc.accept_failed")
				// Continue on transient errors (e.g., fd limit) instead of
				// killing the entire accept loop.
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}

		s.mu.Lock()
		select {
		case <-s.quit:
			s.mu.Unlock()
			_ = conn.Close()
			return
		default:
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		select {
		case <-s.quit:
			return
		default:
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp := Response{JSONRPC: "2.0", ID: 0, Error: &RPCError{Code: -32700, Message: "parse error"}}
			_ = encoder.Encode(resp)
			continue
		}

		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	marshalResult := func(v any, err error) Response {
		if err != nil {
			resp.Error = &RPCError{Code: -32000, Message: err.Error()}
			return resp
		}
		data, merr := json.Marshal(v)
		if merr != nil {
			resp.Error = &RPCError{Code: -32603, Message: merr.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}

	invalidParams := func(err error) Response {
		resp.Error = &RPCError{Code: -32602, Message: fmt.Sprintf("invalid params: %v", err)}
		return resp
	}

	switch req.Method {
	case "ListSources":
		specs := s.streams.Sources()
		out := make([]SourceInfo, 0, len(specs))
		for _, sp := range specs {
			out = append(out, SourceInfo{
				ID:          string(sp.ID),
				Name:        sp.Name,
				Type:        sp.Type,
				Description: sp.Description,
				Command:     sp.Command,
				WorkingDir:  sp.WorkingDir,
			})
		}
		return marshalResult(out, nil)

	case "SourceStatus":
		var p struct{ ID string }
		if err := decodeParams(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		st, err := s.streams.Status(model.SourceID(p.ID))
		if err != nil {
			return marshalResult(nil, err)
		}
		out := SourceStatus{
			ID:            string(st.ID),
			State:         st.State.String(),
			Subscribers:   st.Subscribers,
			Running:       st.Running,
			BufferedLines: st.BufferedLines,
			MaxLines:      st.MaxLines,
		}
		if st.LastError != nil {
			out.LastError = st.LastError.Error()
		}
		return marshalResult(out, nil)

	case "RecentLines":
		var p struct {
			ID    string
			Count int
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		if p.Count == 0 {
			p.Count = model.DefaultRecentCount
		}
		lines, err := s.streams.RecentLines(model.SourceID(p.ID), p.Count)
		if err != nil {
			return marshalResult(nil, err)
		}
		return marshalResult(model.Texts(lines), nil)

	default:
		resp.Error = &RPCError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
}

// decodeParams unmarshals params, treating absent or null params as empty.
func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

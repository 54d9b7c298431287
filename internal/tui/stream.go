package tui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinytelemetry/tailexplorer/internal/model"
)

const (
	clientPingPeriod = 30 * time.Second
	clientWriteWait  = 10 * time.Second
	messageBuffer    = 256

	closeUnauthorized  = 4001
	closeUnknownSource = 4004
)

var pingMessage = []byte(`{"type":"ping"}`)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrUnknownSource = errors.New("unknown source")
)

// Stream is a live subscription to one source.
type Stream interface {
	// Messages is closed when the subscription ends.
	Messages() <-chan model.Message
	// Err reports why Messages was closed. Nil after a clean Close.
	Err() error
	Close() error
}

// Dialer opens a Stream for a source id.
type Dialer func(ctx context.Context, id string) (Stream, error)

// WebSocketDialer returns a Dialer against the service's /ws endpoint.
// baseURL is the service's HTTP address, e.g. http://127.0.0.1:8000.
func WebSocketDialer(baseURL, token string) Dialer {
	return func(ctx context.Context, id string) (Stream, error) {
		return DialStream(ctx, baseURL, id, token)
	}
}

// wsStream reads wire messages from one WebSocket connection.
type wsStream struct {
	conn *websocket.Conn
	msgs chan model.Message
	done chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	closing   bool
}

// DialStream subscribes to a source over WebSocket.
func DialStream(ctx context.Context, baseURL, id, token string) (Stream, error) {
	target, err := streamURL(baseURL, id, token)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", target, err)
	}

	s := &wsStream{
		conn: conn,
		msgs: make(chan model.Message, messageBuffer),
		done: make(chan struct{}),
	}
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

func streamURL(baseURL, id, token string) (string, error) {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	base := strings.TrimRight(u.Path, "/")
	u.Path = base + "/ws/" + id
	u.RawPath = base + "/ws/" + url.PathEscape(id)
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *wsStream) Messages() <-chan model.Message { return s.msgs }

func (s *wsStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsStream) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(clientWriteWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) readLoop() {
	defer close(s.msgs)
	for {
		var msg model.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.fail(err)
			return
		}
		switch msg.Kind {
		case model.KindInitialLogs, model.KindNewLog, model.KindError:
		default:
			// pong and anything newer
			continue
		}
		select {
		case s.msgs <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *wsStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case closeUnauthorized:
			s.err = ErrUnauthorized
			return
		case closeUnknownSource:
			s.err = ErrUnknownSource
			return
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			s.err = fmt.Errorf("server closed the stream: %w", err)
			return
		}
	}
	s.err = err
}

// pingLoop sends the text keepalive the browser viewer also sends.
func (s *wsStream) pingLoop() {
	ticker := time.NewTicker(clientPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			err := s.conn.WriteMessage(websocket.TextMessage, pingMessage)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

package tui

import (
	"context"
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/tailexplorer/internal/model"
	"github.com/tinytelemetry/tailexplorer/internal/socketrpc"
)

type fakeCatalog struct {
	sources  []socketrpc.SourceInfo
	statuses map[string]socketrpc.SourceStatus
	err      error
	calls    int
}

func (c *fakeCatalog) ListSources() ([]socketrpc.SourceInfo, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.sources, nil
}

func (c *fakeCatalog) SourceStatus(id string) (socketrpc.SourceStatus, error) {
	st, ok := c.statuses[id]
	if !ok {
		return socketrpc.SourceStatus{}, errors.New("unknown source")
	}
	return st, nil
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		sources: []socketrpc.SourceInfo{
			{ID: "app", Name: "App", Description: "application"},
			{ID: "db", Name: "Database"},
		},
		statuses: map[string]socketrpc.SourceStatus{
			"app": {ID: "app", State: "streaming", Subscribers: 2, Running: true},
			"db":  {ID: "db", State: "idle", LastError: "failed to start"},
		},
	}
}

type fakeStream struct {
	msgs      chan model.Message
	err       error
	closeOnce sync.Once
	closed    bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{msgs: make(chan model.Message, 16)}
}

func (s *fakeStream) Messages() <-chan model.Message { return s.msgs }
func (s *fakeStream) Err() error                     { return s.err }
func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { s.closed = true })
	return nil
}

type fakeDialer struct {
	streams []*fakeStream
	ids     []string
	err     error
}

func (d *fakeDialer) dial(_ context.Context, id string) (Stream, error) {
	d.ids = append(d.ids, id)
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

// run executes cmd and returns its message.
func run(cmd tea.Cmd) tea.Msg {
	if cmd == nil {
		return nil
	}
	return cmd()
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

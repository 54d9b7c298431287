package stream

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/tailexplorer/internal/hub"
	"github.com/tinytelemetry/tailexplorer/internal/logsource"
	"github.com/tinytelemetry/tailexplorer/internal/model"
)

type fakeProc struct {
	startErr error
	snapshot []string
	gate     chan struct{}
	lines    chan string
	stopped  chan struct{}
	stopOnce sync.Once
	stops    atomic.Int32
	err      error
	exited   chan struct{}
	exitOnce sync.Once
}

func (p *fakeProc) Name() string                { return "fake" }
func (p *fakeProc) Start(context.Context) error { return p.startErr }
func (p *fakeProc) Err() error                  { return p.err }
func (p *fakeProc) emit(lines ...string) {
	for _, l := range lines {
		p.lines <- l
	}
}
func (p *fakeProc) Done() <-chan struct{} { return p.exited }
func (p *fakeProc) exit()                 { p.exitOnce.Do(func() { close(p.exited) }) }
func (p *fakeProc) end() {
	close(p.lines)
	p.exit()
}

func (p *fakeProc) Snapshot(ctx context.Context, _ logsource.SnapshotPolicy) ([]string, bool) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, false
		}
	}
	return slices.Clone(p.snapshot), true
}

func (p *fakeProc) ReadLine(ctx context.Context) (string, bool) {
	select {
	case l, ok := <-p.lines:
		return l, ok
	case <-p.stopped:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

func (p *fakeProc) Stop() {
	p.stops.Add(1)
	p.stopOnce.Do(func() { close(p.stopped) })
	p.exit()
}

type fakeFactory struct {
	mu       sync.Mutex
	procs    []*fakeProc
	startErr error
	snapshot []string
	gate     chan struct{}
}

func (f *fakeFactory) new(SourceSpec, zerolog.Logger) Process {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakeProc{
		startErr: f.startErr,
		snapshot: f.snapshot,
		gate:     f.gate,
		lines:    make(chan string, 16),
		stopped:  make(chan struct{}),
		exited:   make(chan struct{}),
	}
	f.procs = append(f.procs, p)
	return p
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

func (f *fakeFactory) proc(t *testing.T, i int) *fakeProc {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.procs), i, "process %d was never created", i)
	return f.procs[i]
}

type testSub struct {
	id     string
	msgs   chan model.Message
	closed atomic.Bool
}

func newTestSub(id string) *testSub {
	return &testSub{id: id, msgs: make(chan model.Message, 256)}
}

func (s *testSub) ID() string { return s.id }

func (s *testSub) Send(m model.Message) error {
	if s.closed.Load() {
		return hub.ErrSubscriberClosed
	}
	select {
	case s.msgs <- m:
		return nil
	default:
		return hub.ErrSubscriberBusy
	}
}

func (s *testSub) next(t *testing.T) model.Message {
	t.Helper()
	select {
	case m := <-s.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber %s: no message within 2s", s.id)
		return model.Message{}
	}
}

func (s *testSub) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case m := <-s.msgs:
		t.Fatalf("subscriber %s: unexpected %s message", s.id, m.Kind)
	case <-time.After(wait):
	}
}

var testSpecs = []SourceSpec{
	{ID: "app", Name: "App", Type: "docker", Command: []string{"docker", "compose", "logs", "-f"}, WorkingDir: "/"},
	{ID: "db", Name: "DB", Type: "file", Command: []string{"tail", "-f", "db.log"}, WorkingDir: "/"},
}

func newTestRegistry(t *testing.T, f *fakeFactory, grace time.Duration) *Registry {
	t.Helper()
	reg, err := NewRegistry(testSpecs, Options{
		GracePeriod: grace,
		Factory:     f.new,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Close(ctx)
	})
	return reg
}

func waitState(t *testing.T, reg *Registry, id model.SourceID, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := reg.Status(id)
		return err == nil && st.State == want
	}, 2*time.Second, 5*time.Millisecond, "source %s never reached %s", id, want)
}

func waitRetired(t *testing.T, reg *Registry, id model.SourceID) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := reg.RecentLines(id, 1)
		return err != nil
	}, 2*time.Second, 5*time.Millisecond, "source %s was never retired", id)
}

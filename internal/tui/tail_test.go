package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/tailexplorer/internal/logparse"
	"github.com/tinytelemetry/tailexplorer/internal/model"
	"github.com/tinytelemetry/tailexplorer/internal/socketrpc"
)

// connectedTail returns a tail page attached to a fake stream for "app".
func connectedTail(t *testing.T, maxLines int) (*TailPage, *fakeDialer, *fakeStream) {
	t.Helper()
	d := &fakeDialer{}
	p := NewTailPage(d.dial, maxLines)
	p.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	p.SetParams(socketrpc.SourceInfo{ID: "app", Name: "App"})

	msg := run(p.Init())
	opened, ok := msg.(streamOpenedMsg)
	if !ok {
		t.Fatalf("Init produced %T, want streamOpenedMsg", msg)
	}
	if cmd, _ := p.Update(opened); cmd == nil {
		t.Fatal("opened stream should start waiting for messages")
	}
	return p, d, d.streams[0]
}

// deliver pushes msg through the stream and the page's wait command.
func deliver(t *testing.T, p *TailPage, s *fakeStream, msg model.Message) {
	t.Helper()
	s.msgs <- msg
	ev := run(waitForStream(s, p.gen))
	p.Update(ev)
}

func TestTailPageInitialAndNewLogs(t *testing.T) {
	p, d, s := connectedTail(t, 0)
	if d.ids[0] != "app" {
		t.Fatalf("dialed %v", d.ids)
	}

	deliver(t, p, s, model.InitialLogs("app", []string{"a", "b"}))
	deliver(t, p, s, model.NewLog("app", "c"))

	got := strings.Join(p.Lines(), ",")
	if got != "a,b,c" {
		t.Fatalf("lines = %s, want a,b,c", got)
	}
	if !strings.Contains(p.View(80, 30), "connected") {
		t.Error("header should show the connection status")
	}

	// A second initial_logs replaces the history.
	deliver(t, p, s, model.InitialLogs("app", []string{"x"}))
	if got := strings.Join(p.Lines(), ","); got != "x" {
		t.Fatalf("lines after history = %s, want x", got)
	}
}

func TestTailPageTrimsToMaxLines(t *testing.T) {
	p, _, s := connectedTail(t, 3)
	deliver(t, p, s, model.InitialLogs("app", []string{"1", "2"}))
	deliver(t, p, s, model.NewLog("app", "3"))
	deliver(t, p, s, model.NewLog("app", "4"))
	deliver(t, p, s, model.NewLog("app", "5"))

	if got := strings.Join(p.Lines(), ","); got != "3,4,5" {
		t.Fatalf("lines = %s, want 3,4,5", got)
	}
}

func TestTailPageErrorMessageShown(t *testing.T) {
	p, _, s := connectedTail(t, 0)
	deliver(t, p, s, model.ErrorMessage("app", "Failed to start log source: boom"))

	if !strings.Contains(p.View(80, 30), "Failed to start log source: boom") {
		t.Fatal("error message should be shown")
	}
	if len(p.Lines()) != 0 {
		t.Fatal("error messages are not log lines")
	}
}

func TestTailPageSeverityAndTextFilter(t *testing.T) {
	p, _, s := connectedTail(t, 0)
	deliver(t, p, s, model.InitialLogs("app", []string{
		"DEBUG cache miss",
		"INFO request served",
		"WARN slow request",
		"ERROR request failed",
		"plain line",
	}))

	// all -> debug -> info -> warn
	for range 3 {
		p.Update(keyMsg("s"))
	}
	if p.minSev != logparse.Warn {
		t.Fatalf("min severity = %v, want WARN", p.minSev)
	}
	if got := strings.Join(p.Lines(), "|"); got != "WARN slow request|ERROR request failed|plain line" {
		t.Fatalf("warn filter lines = %s", got)
	}

	p.Update(keyMsg("/"))
	for _, r := range "request" {
		p.Update(keyMsg(string(r)))
	}
	p.Update(keyMsg("enter"))
	if got := strings.Join(p.Lines(), "|"); got != "WARN slow request|ERROR request failed" {
		t.Fatalf("text filter lines = %s", got)
	}

	// Esc in the filter box clears it.
	p.Update(keyMsg("/"))
	p.Update(keyMsg("esc"))
	if len(p.Lines()) != 3 {
		t.Fatalf("lines after clearing filter = %v", p.Lines())
	}

	// error -> all
	p.Update(keyMsg("s"))
	p.Update(keyMsg("s"))
	if len(p.Lines()) != 5 {
		t.Fatalf("severity cycle should wrap to all, got %v", p.Lines())
	}
}

func TestTailPagePauseHoldsLines(t *testing.T) {
	p, _, s := connectedTail(t, 0)
	deliver(t, p, s, model.InitialLogs("app", []string{"a"}))

	p.Update(keyMsg("p"))
	deliver(t, p, s, model.NewLog("app", "b"))
	if got := strings.Join(p.Lines(), ","); got != "a" {
		t.Fatalf("paused lines = %s, want a", got)
	}
	if !strings.Contains(p.View(80, 30), "PAUSED (1 held)") {
		t.Error("paused view should show held count")
	}

	p.Update(keyMsg("p"))
	if got := strings.Join(p.Lines(), ","); got != "a,b" {
		t.Fatalf("resumed lines = %s, want a,b", got)
	}
}

func TestTailPageBackClosesStream(t *testing.T) {
	p, _, s := connectedTail(t, 0)
	staleGen := p.gen

	_, nav := p.Update(keyMsg("esc"))
	if nav == nil || nav.PageID != SourcesPageID {
		t.Fatalf("esc nav = %+v", nav)
	}
	if !s.closed {
		t.Fatal("leaving the page should close the stream")
	}

	// Events from the old stream are ignored.
	cmd, _ := p.Update(streamEventMsg{gen: staleGen, msg: model.NewLog("app", "late")})
	if cmd != nil || len(p.Lines()) != 0 {
		t.Fatal("stale stream events must be dropped")
	}
}

func TestTailPageStreamClosedAndReconnect(t *testing.T) {
	p, d, s := connectedTail(t, 0)
	s.err = errors.New("unknown source")
	close(s.msgs)

	p.Update(run(waitForStream(s, p.gen)))
	if !strings.Contains(p.View(80, 30), "disconnected: unknown source") {
		t.Fatalf("view should show the close reason:\n%s", p.View(80, 30))
	}
	if !s.closed {
		t.Fatal("closed stream should be released")
	}

	cmd, _ := p.Update(keyMsg("r"))
	msg := run(cmd)
	opened, ok := msg.(streamOpenedMsg)
	if !ok {
		t.Fatalf("reconnect produced %T", msg)
	}
	p.Update(opened)
	if len(d.streams) != 2 || p.stream != Stream(d.streams[1]) {
		t.Fatal("reconnect should attach the new stream")
	}
}

func TestTailPageDialFailure(t *testing.T) {
	d := &fakeDialer{err: errors.New("refused")}
	p := NewTailPage(d.dial, 0)
	p.SetParams(socketrpc.SourceInfo{ID: "app"})

	p.Update(run(p.Init()))
	if !strings.Contains(p.View(80, 30), "connect failed: refused") {
		t.Fatalf("view should show the dial error:\n%s", p.View(80, 30))
	}
}

func TestTailPageStaleOpenIsClosed(t *testing.T) {
	d := &fakeDialer{}
	p := NewTailPage(d.dial, 0)
	p.SetParams(socketrpc.SourceInfo{ID: "app"})
	cmd := p.Init()

	// The user leaves before the dial completes.
	p.Update(keyMsg("esc"))
	p.Update(run(cmd))

	if !d.streams[0].closed {
		t.Fatal("a stream opened for a page that was left should be closed")
	}
	if p.stream != nil {
		t.Fatal("stale stream must not be attached")
	}
}

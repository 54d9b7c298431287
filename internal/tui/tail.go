package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/tailexplorer/internal/logparse"
	"github.com/tinytelemetry/tailexplorer/internal/model"
	"github.com/tinytelemetry/tailexplorer/internal/socketrpc"
)

const (
	TailPageID = "tail"

	defaultTailLines = 5000
	dialTimeout      = 10 * time.Second

	tailHeaderHeight = 3
	tailFooterHeight = 3
)

var severityCycle = []logparse.Severity{
	logparse.Unknown, logparse.Debug, logparse.Info, logparse.Warn, logparse.Error,
}

// Stream lifecycle messages carry the connection generation so that events
// from a stream the page has already left are dropped.
type (
	streamOpenedMsg struct {
		gen    int
		stream Stream
	}
	streamFailedMsg struct {
		gen int
		err error
	}
	streamEventMsg struct {
		gen int
		msg model.Message
	}
	streamClosedMsg struct {
		gen int
		err error
	}
)

type tailLine struct {
	text string
	sev  logparse.Severity
}

// TailPage follows one source's live output.
type TailPage struct {
	dial     Dialer
	keys     KeyMap
	help     help.Model
	maxLines int

	source socketrpc.SourceInfo
	stream Stream
	gen    int
	status string
	notice string

	lines  []tailLine
	held   []tailLine
	paused bool
	minSev logparse.Severity
	filter textinput.Model

	vp viewport.Model
}

// NewTailPage creates the tail view. maxLines <= 0 keeps the default history.
func NewTailPage(dial Dialer, maxLines int) *TailPage {
	if maxLines <= 0 {
		maxLines = defaultTailLines
	}
	ti := textinput.New()
	ti.Prompt = "/"
	ti.Placeholder = "filter"
	ti.CharLimit = 256
	return &TailPage{
		dial:     dial,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		maxLines: maxLines,
		filter:   ti,
		vp:       viewport.New(80, 20),
	}
}

func (p *TailPage) ID() string { return TailPageID }

// SetParams selects the source to follow and clears the previous one.
func (p *TailPage) SetParams(params any) {
	src, ok := params.(socketrpc.SourceInfo)
	if !ok {
		return
	}
	p.disconnect()
	p.source = src
	p.lines = nil
	p.held = nil
	p.paused = false
	p.notice = ""
	p.filter.SetValue("")
	p.filter.Blur()
	p.refresh()
}

func (p *TailPage) Init() tea.Cmd {
	if p.source.ID == "" {
		return nil
	}
	return p.connect()
}

func (p *TailPage) connect() tea.Cmd {
	p.gen++
	gen, dial, id := p.gen, p.dial, p.source.ID
	p.status = "connecting"
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		s, err := dial(ctx, id)
		if err != nil {
			return streamFailedMsg{gen: gen, err: err}
		}
		return streamOpenedMsg{gen: gen, stream: s}
	}
}

func waitForStream(s Stream, gen int) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-s.Messages()
		if !ok {
			return streamClosedMsg{gen: gen, err: s.Err()}
		}
		return streamEventMsg{gen: gen, msg: msg}
	}
}

// disconnect closes the current stream and invalidates its pending events.
func (p *TailPage) disconnect() {
	p.gen++
	if p.stream != nil {
		_ = p.stream.Close()
		p.stream = nil
	}
	p.status = "disconnected"
}

func (p *TailPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.vp.Width = msg.Width
		p.vp.Height = max(1, msg.Height-tailHeaderHeight-tailFooterHeight)
		p.help.Width = msg.Width
		p.refresh()
		return nil, nil

	case streamOpenedMsg:
		if msg.gen != p.gen {
			_ = msg.stream.Close()
			return nil, nil
		}
		p.stream = msg.stream
		p.status = "connected"
		return waitForStream(p.stream, p.gen), nil

	case streamFailedMsg:
		if msg.gen == p.gen {
			p.status = "connect failed: " + msg.err.Error()
		}
		return nil, nil

	case streamEventMsg:
		if msg.gen != p.gen || p.stream == nil {
			return nil, nil
		}
		p.apply(msg.msg)
		return waitForStream(p.stream, p.gen), nil

	case streamClosedMsg:
		if msg.gen != p.gen {
			return nil, nil
		}
		if p.stream != nil {
			_ = p.stream.Close()
			p.stream = nil
		}
		p.status = "disconnected"
		if msg.err != nil {
			p.status += ": " + msg.err.Error()
		}
		return nil, nil

	case tea.KeyMsg:
		return p.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		p.vp, cmd = p.vp.Update(msg)
		return cmd, nil
	}
	return nil, nil
}

func (p *TailPage) handleKey(msg tea.KeyMsg) (tea.Cmd, *PageNav) {
	if p.filter.Focused() {
		switch msg.Type {
		case tea.KeyEnter:
			p.filter.Blur()
			return nil, nil
		case tea.KeyEsc:
			p.filter.SetValue("")
			p.filter.Blur()
			p.refresh()
			return nil, nil
		}
		var cmd tea.Cmd
		p.filter, cmd = p.filter.Update(msg)
		p.refresh()
		return cmd, nil
	}

	switch {
	case key.Matches(msg, p.keys.Back):
		p.disconnect()
		return nil, &PageNav{PageID: SourcesPageID}
	case key.Matches(msg, p.keys.Quit):
		p.disconnect()
		return tea.Quit, nil
	case key.Matches(msg, p.keys.Filter):
		return p.filter.Focus(), nil
	case key.Matches(msg, p.keys.Severity):
		p.minSev = nextSeverity(p.minSev)
		p.refresh()
	case key.Matches(msg, p.keys.Pause):
		p.paused = !p.paused
		if !p.paused {
			p.push(p.held...)
			p.held = nil
			p.refresh()
		}
	case key.Matches(msg, p.keys.Clear):
		p.lines = nil
		p.held = nil
		p.refresh()
	case key.Matches(msg, p.keys.Reconnect):
		if p.stream == nil && p.source.ID != "" {
			return p.connect(), nil
		}
	case key.Matches(msg, p.keys.Top):
		p.vp.GotoTop()
	case key.Matches(msg, p.keys.Bottom):
		p.vp.GotoBottom()
	default:
		var cmd tea.Cmd
		p.vp, cmd = p.vp.Update(msg)
		return cmd, nil
	}
	return nil, nil
}

// apply folds one server message into the page.
func (p *TailPage) apply(msg model.Message) {
	switch msg.Kind {
	case model.KindInitialLogs:
		// History replaces whatever was shown, including after a reconnect.
		p.lines = p.lines[:0]
		p.held = nil
		p.push(classify(msg.Lines)...)
		p.refresh()
	case model.KindNewLog:
		line := tailLine{text: msg.Line, sev: logparse.Classify(msg.Line)}
		if p.paused {
			p.held = append(p.held, line)
			if over := len(p.held) - p.maxLines; over > 0 {
				p.held = p.held[over:]
			}
			return
		}
		p.push(line)
		p.refresh()
	case model.KindError:
		p.notice = msg.Error
	}
}

func (p *TailPage) push(lines ...tailLine) {
	p.lines = append(p.lines, lines...)
	if over := len(p.lines) - p.maxLines; over > 0 {
		p.lines = append(p.lines[:0], p.lines[over:]...)
	}
}

func classify(texts []string) []tailLine {
	out := make([]tailLine, len(texts))
	for i, t := range texts {
		out[i] = tailLine{text: t, sev: logparse.Classify(t)}
	}
	return out
}

func nextSeverity(cur logparse.Severity) logparse.Severity {
	for i, s := range severityCycle {
		if s == cur {
			return severityCycle[(i+1)%len(severityCycle)]
		}
	}
	return severityCycle[0]
}

// Lines returns the texts that pass the current severity and text filter.
func (p *TailPage) Lines() []string {
	var out []string
	for _, l := range p.visible() {
		out = append(out, l.text)
	}
	return out
}

func (p *TailPage) visible() []tailLine {
	needle := strings.ToLower(p.filter.Value())
	out := make([]tailLine, 0, len(p.lines))
	for _, l := range p.lines {
		if !l.sev.Passes(p.minSev) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(l.text), needle) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// refresh re-renders the viewport, staying pinned to the bottom if it was.
func (p *TailPage) refresh() {
	follow := p.vp.AtBottom()
	lines := p.visible()
	rendered := make([]string, len(lines))
	for i, l := range lines {
		rendered[i] = severityStyle(l.sev).Render(l.text)
	}
	p.vp.SetContent(strings.Join(rendered, "\n"))
	if follow {
		p.vp.GotoBottom()
	}
}

func (p *TailPage) View(width, height int) string {
	var b strings.Builder

	title := p.source.Name
	if title == "" {
		title = p.source.ID
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s  [%s]", p.source.ID, p.status)))
	b.WriteString("\n")

	stats := fmt.Sprintf("%d lines", len(p.lines))
	if p.minSev != logparse.Unknown {
		stats += "  min " + p.minSev.String()
	}
	if f := p.filter.Value(); f != "" && !p.filter.Focused() {
		stats += fmt.Sprintf("  filter %q", f)
	}
	if p.paused {
		stats += fmt.Sprintf("  PAUSED (%d held)", len(p.held))
	}
	b.WriteString(statusBar.Render(stats))
	b.WriteString("\n\n")

	b.WriteString(p.vp.View())
	b.WriteString("\n")

	switch {
	case p.filter.Focused():
		b.WriteString(p.filter.View())
	case p.notice != "":
		b.WriteString(errorStyle.Render(p.notice))
	}
	b.WriteString("\n")
	b.WriteString(p.help.ShortHelpView(p.keys.TailHelp()))
	return b.String()
}

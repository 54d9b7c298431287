package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/tailexplorer/internal/socketrpc"
)

const (
	SourcesPageID = "sources"

	defaultStatusRefresh = 2 * time.Second
)

// Catalog lists sources and their live state, normally over the socket RPC.
type Catalog interface {
	ListSources() ([]socketrpc.SourceInfo, error)
	SourceStatus(id string) (socketrpc.SourceStatus, error)
}

type sourcesLoadedMsg struct {
	sources  []socketrpc.SourceInfo
	statuses map[string]socketrpc.SourceStatus
	err      error
	// scheduled loads keep the periodic refresh going.
	scheduled bool
}

type sourcesTickMsg struct{}

// SourcesPage lists configured sources with their supervisor state.
type SourcesPage struct {
	catalog  Catalog
	keys     KeyMap
	help     help.Model
	interval time.Duration

	sources  []socketrpc.SourceInfo
	statuses map[string]socketrpc.SourceStatus
	cursor   int
	err      error
	loaded   bool
}

// NewSourcesPage creates the source list. interval <= 0 uses the default refresh.
func NewSourcesPage(catalog Catalog, interval time.Duration) *SourcesPage {
	if interval <= 0 {
		interval = defaultStatusRefresh
	}
	return &SourcesPage{
		catalog:  catalog,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		interval: interval,
		statuses: map[string]socketrpc.SourceStatus{},
	}
}

func (p *SourcesPage) ID() string { return SourcesPageID }

func (p *SourcesPage) Init() tea.Cmd {
	return p.load(true)
}

// load fetches the source list and every status in one command.
func (p *SourcesPage) load(scheduled bool) tea.Cmd {
	catalog := p.catalog
	return func() tea.Msg {
		sources, err := catalog.ListSources()
		if err != nil {
			return sourcesLoadedMsg{err: err, scheduled: scheduled}
		}
		statuses := make(map[string]socketrpc.SourceStatus, len(sources))
		for _, src := range sources {
			st, err := catalog.SourceStatus(src.ID)
			if err != nil {
				return sourcesLoadedMsg{sources: sources, err: err, scheduled: scheduled}
			}
			statuses[src.ID] = st
		}
		return sourcesLoadedMsg{sources: sources, statuses: statuses, scheduled: scheduled}
	}
}

func (p *SourcesPage) tick() tea.Cmd {
	return tea.Tick(p.interval, func(time.Time) tea.Msg { return sourcesTickMsg{} })
}

func (p *SourcesPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case sourcesLoadedMsg:
		p.loaded = true
		p.err = msg.err
		if msg.sources != nil {
			p.sources = msg.sources
		}
		if msg.statuses != nil {
			p.statuses = msg.statuses
		}
		if p.cursor >= len(p.sources) {
			p.cursor = max(0, len(p.sources)-1)
		}
		if msg.scheduled {
			return p.tick(), nil
		}
		return nil, nil

	case sourcesTickMsg:
		return p.load(true), nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, p.keys.Quit):
			return tea.Quit, nil
		case key.Matches(msg, p.keys.Up):
			if p.cursor > 0 {
				p.cursor--
			}
		case key.Matches(msg, p.keys.Down):
			if p.cursor < len(p.sources)-1 {
				p.cursor++
			}
		case key.Matches(msg, p.keys.Refresh):
			return p.load(false), nil
		case key.Matches(msg, p.keys.Enter):
			if src, ok := p.Selected(); ok {
				return nil, &PageNav{PageID: TailPageID, Params: src}
			}
		}
	}
	return nil, nil
}

// Selected returns the source under the cursor.
func (p *SourcesPage) Selected() (socketrpc.SourceInfo, bool) {
	if p.cursor < 0 || p.cursor >= len(p.sources) {
		return socketrpc.SourceInfo{}, false
	}
	return p.sources[p.cursor], true
}

func (p *SourcesPage) View(width, height int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("TailExplorer sources"))
	b.WriteString("\n\n")

	switch {
	case !p.loaded:
		b.WriteString(dimStyle.Render("loading..."))
		b.WriteString("\n")
	case len(p.sources) == 0 && p.err == nil:
		b.WriteString(dimStyle.Render("no sources configured"))
		b.WriteString("\n")
	}

	idWidth := 4
	for _, src := range p.sources {
		idWidth = max(idWidth, len(src.ID))
	}

	for i, src := range p.sources {
		st, ok := p.statuses[src.ID]
		state := "idle"
		if ok {
			state = st.State
		}
		selected := i == p.cursor
		stateCell := fmt.Sprintf("%-10s", state)
		desc := ""
		if src.Description != "" {
			desc = "  " + src.Description
		}
		if !selected {
			stateCell = stateStyle(state).Render(stateCell)
			desc = dimStyle.Render(desc)
		}
		row := fmt.Sprintf("%-*s  %s  %3d subs  %s%s", idWidth, src.ID, stateCell, st.Subscribers, src.Name, desc)
		if selected {
			b.WriteString(selectedStyle.Render("> " + row))
		} else {
			b.WriteString("  " + row)
		}
		b.WriteString("\n")
		if ok && st.LastError != "" && selected {
			b.WriteString("    " + errorStyle.Render(st.LastError) + "\n")
		}
	}

	if p.err != nil {
		b.WriteString("\n" + errorStyle.Render("error: "+p.err.Error()) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(p.help.ShortHelpView(p.keys.SourcesHelp()))
	return b.String()
}

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/tailexplorer/internal/socketrpc"
	"github.com/tinytelemetry/tailexplorer/internal/tui"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var (
		configPath  string
		socketPath  string
		serverURL   string
		token       string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/tailexplorer/tui.yaml)")
	flag.StringVar(&socketPath, "socket", "", "override socket path to connect to the tailexplorer service")
	flag.StringVar(&serverURL, "server", "", "override the service HTTP address used for streaming")
	flag.StringVar(&token, "token", "", "password for a service with auth enabled")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("TailExplorer CLI - Terminal Client\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadCLIConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if token != "" {
		cfg.Token = token
	}

	if err := runTUI(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTUI(cfg cliConfig) error {
	client, err := socketrpc.Dial(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("cannot connect to tailexplorer service at %s: %w\nIs the service running? Start it with: tailexplorer", cfg.SocketPath, err)
	}
	defer client.Close()

	sources := tui.NewSourcesPage(client, cfg.RefreshInterval)
	tail := tui.NewTailPage(tui.WebSocketDialer(cfg.ServerURL, cfg.Token), cfg.MaxLines)
	app := tui.NewApp(sources, tail)

	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		if strings.Contains(err.Error(), "TTY") || strings.Contains(err.Error(), "/dev/tty") {
			return fmt.Errorf("TUI requires a real terminal")
		}
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}

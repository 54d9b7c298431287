package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/tailexplorer/internal/auth"
	"github.com/tinytelemetry/tailexplorer/internal/httpserver"
	"github.com/tinytelemetry/tailexplorer/internal/hub"
	"github.com/tinytelemetry/tailexplorer/internal/logging"
	"github.com/tinytelemetry/tailexplorer/internal/logsource"
	"github.com/tinytelemetry/tailexplorer/internal/metrics"
	"github.com/tinytelemetry/tailexplorer/internal/socketrpc"
	"github.com/tinytelemetry/tailexplorer/internal/stream"
)

const shutdownTimeout = 10 * time.Second

// service is the running set of components behind one config.
type service struct {
	log      zerolog.Logger
	registry *stream.Registry
	api      *httpserver.Server
	sock     *socketrpc.Server
	gate     *auth.Gate
}

// runServer starts the streaming service and blocks until SIGINT or SIGTERM.
func runServer(cfg appConfig) error {
	logger, logCloser := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	defer logCloser.Close()

	svc, err := startService(cfg, logger)
	if err != nil {
		return err
	}
	printStartupBanner(cfg, svc.api.Addr(), svc.gate.Enabled(), svc.sock != nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	stop()
	logger.Info().Msg("server.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server.stopped")
	return nil
}

// startService builds the registry and starts the HTTP and socket front ends.
func startService(cfg appConfig, logger zerolog.Logger) (*service, error) {
	gate, err := auth.NewGate(cfg.Auth.Password, cfg.Auth.PasswordHash)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	registry, err := stream.NewRegistry(cfg.sourceSpecs(), stream.Options{
		GracePeriod: cfg.Stream.GracePeriod,
		StopTimeout: cfg.Stream.StopTimeout,
		Snapshot: logsource.SnapshotPolicy{
			MaxLines:    cfg.Stream.SnapshotLines,
			IdleTimeout: cfg.Stream.SnapshotIdleTimeout,
			MaxIdle:     cfg.Stream.SnapshotMaxIdle,
		},
		Policy:  hub.AtMostOnce,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return nil, fmt.Errorf("building source registry: %w", err)
	}

	api := httpserver.NewServer(cfg.Server.Addr(), registry, httpserver.Options{
		Gate:    gate,
		Metrics: m,
		Logger:  logger,
	})
	if err := api.Start(); err != nil {
		_ = registry.Close(context.Background())
		return nil, fmt.Errorf("failed to start HTTP server: %w", err)
	}

	svc := &service{log: logger, registry: registry, api: api, gate: gate}

	// Socket RPC is optional; a failure only disables the terminal client.
	if cfg.SocketPath != "" {
		sock := socketrpc.NewServer(cfg.SocketPath, registry, logger)
		if err := sock.Start(); err != nil {
			logger.Warn().Err(err).Msg("socketrpc.start_failed")
		} else {
			svc.sock = sock
		}
	}
	return svc, nil
}

// shutdown stops the front ends first so no new subscriptions arrive, then
// the source processes.
func (s *service) shutdown(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	g.Go(s.api.Stop)
	if s.sock != nil {
		g.Go(func() error {
			s.sock.Stop()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Warn().Err(err).Msg("server.frontend_stop_failed")
	}

	if err := s.registry.Close(ctx); err != nil {
		return fmt.Errorf("stopping sources: %w", err)
	}
	return nil
}

func printStartupBanner(cfg appConfig, addr string, authEnabled, socketEnabled bool) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔╦╗╔═╗╦╦    ╔═╗═╗ ╦
     ║ ╠═╣║║    ║╣ ╔╩╦╝
     ╩ ╩ ╩╩╩═╝  ╚═╝╩ ╚═`)

	var lines []string
	lines = append(lines, "", logo, "    "+dim.Render("v"+version), "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator, "")

	lines = append(lines, bold.Render("    Gateway"), "")
	lines = append(lines, fmt.Sprintf("    %s  HTTP / WS      %s", check, cyan.Render(addr)))
	if socketEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", check, cyan.Render(shortenPath(cfg.SocketPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", dot, dim.Render("disabled")))
	}
	if authEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Auth           %s", check, dim.Render("password")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Auth           %s", dot, dim.Render("open")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Sources"), "")
	for _, spec := range cfg.sourceSpecs() {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, spec.ID, dim.Render(strings.Join(spec.Command, " "))))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Grace Period   %s", check, dim.Render(cfg.Stream.GracePeriod.String())))

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}

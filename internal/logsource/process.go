package logsource

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/tailexplorer/internal/model"
)

// ProcessConfig describes the command behind a ProcessSource.
type ProcessConfig struct {
	Command     []string
	Dir         string
	MergeStderr bool
	StopTimeout time.Duration
	BufferSize  int
	MaxLineSize int
	Logger      zerolog.Logger
}

// ProcessSource runs one external command and exposes its stdout as lines.
// A ProcessSource is single-use: Start it once, read it until it ends, Stop it.
type ProcessSource struct {
	name string
	cfg  ProcessConfig
	log  zerolog.Logger

	lines   chan string
	stopped chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	started bool
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	cancel  context.CancelFunc
	err     error

	stopOnce sync.Once
}

var _ LogSource = (*ProcessSource)(nil)

// NewProcessSource prepares, but does not start, a process source.
func NewProcessSource(name string, cfg ProcessConfig) *ProcessSource {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = model.DefaultStopTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultLineBuffer
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = DefaultMaxLineSize
	}
	return &ProcessSource{
		name:    name,
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "process").Str("source", name).Logger(),
		lines:   make(chan string, cfg.BufferSize),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (p *ProcessSource) Name() string { return p.name }

// Start launches the command in its working directory with stdout and stderr
// captured. Launch failures are returned as *SpawnError; there is no retry.
func (p *ProcessSource) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return &SpawnError{Command: p.cfg.Command, Dir: p.cfg.Dir, Err: errAlreadyStarted}
	}
	if len(p.cfg.Command) == 0 {
		return &SpawnError{Command: p.cfg.Command, Dir: p.cfg.Dir, Err: errEmptyCommand}
	}

	pctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(pctx, p.cfg.Command[0], p.cfg.Command[1:]...)
	cmd.Dir = p.cfg.Dir
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = p.cfg.StopTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return &SpawnError{Command: p.cfg.Command, Dir: p.cfg.Dir, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return &SpawnError{Command: p.cfg.Command, Dir: p.cfg.Dir, Err: err}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return &SpawnError{Command: p.cfg.Command, Dir: p.cfg.Dir, Err: err}
	}

	p.started = true
	p.cmd = cmd
	p.stdout = stdout
	p.stderr = stderr
	p.cancel = cancel

	p.log.Info().
		Int("pid", cmd.Process.Pid).
		Strs("command", p.cfg.Command).
		Str("dir", p.cfg.Dir).
		Msg("process.started")

	go p.run()
	return nil
}

// run pumps the pipes. The line channel closes as soon as stdout (and stderr,
// when merged) reaches EOF, even if the process lives on; reaping follows.
func (p *ProcessSource) run() {
	defer close(p.done)

	emit := func(line string) bool {
		select {
		case p.lines <- line:
			return true
		case <-p.stopped:
			return false
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if p.cfg.MergeStderr {
			_ = scanLines(p.stderr, p.cfg.MaxLineSize, emit)
			return
		}
		_ = scanLines(p.stderr, p.cfg.MaxLineSize, func(line string) bool {
			p.log.Warn().Str("line", line).Msg("process.stderr")
			return true
		})
	}()

	readErr := scanLines(p.stdout, p.cfg.MaxLineSize, emit)
	if readErr != nil {
		// Unblock a process still writing into a pipe nobody reads.
		_ = p.stdout.Close()
	}
	if p.cfg.MergeStderr {
		wg.Wait()
	}
	if p.stopRequested() {
		readErr = nil
	}
	p.mu.Lock()
	p.err = readErr
	p.mu.Unlock()
	close(p.lines)
	p.log.Debug().Err(readErr).Msg("process.output_closed")

	wg.Wait()
	waitErr := p.cmd.Wait()
	if p.stopRequested() {
		// Exit status after a requested stop is expected noise.
		waitErr = nil
	}

	p.mu.Lock()
	p.err = errors.Join(p.err, waitErr)
	err := p.err
	p.mu.Unlock()

	evt := p.log.Info()
	if err != nil {
		evt = p.log.Warn().Err(err)
	}
	evt.Int("pid", p.cmd.Process.Pid).Msg("process.exited")
}

func (p *ProcessSource) stopRequested() bool {
	select {
	case <-p.stopped:
		return true
	default:
		return false
	}
}

// ReadLine blocks until a line is available, the stream ends, or ctx is done.
func (p *ProcessSource) ReadLine(ctx context.Context) (string, bool) {
	if !p.isStarted() {
		return "", false
	}
	select {
	case line, ok := <-p.lines:
		return line, ok
	case <-ctx.Done():
		return "", false
	}
}

// Snapshot collects the initial batch of lines. The loop runs while fewer
// than policy.MaxLines lines were read and fewer than policy.MaxIdle
// consecutive waits timed out. ok is false when the stream ended (or ctx was
// cancelled) during the snapshot.
func (p *ProcessSource) Snapshot(ctx context.Context, policy SnapshotPolicy) ([]string, bool) {
	policy = policy.withDefaults()
	lines := make([]string, 0, min(policy.MaxLines, 256))
	if !p.isStarted() {
		return lines, false
	}

	timer := time.NewTimer(policy.IdleTimeout)
	defer timer.Stop()

	idle := 0
	for len(lines) < policy.MaxLines && idle < policy.MaxIdle {
		timer.Reset(policy.IdleTimeout)
		select {
		case line, ok := <-p.lines:
			if !ok {
				return lines, false
			}
			lines = append(lines, line)
			idle = 0
		case <-timer.C:
			idle++
		case <-ctx.Done():
			return lines, false
		}
	}
	return lines, true
}

// Stop sends SIGTERM and waits up to StopTimeout for the process to exit. If
// it is still running after that it is killed and its pipes are closed, and
// Stop returns without waiting further. Calling Stop again is a no-op.
func (p *ProcessSource) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)

		p.mu.Lock()
		started := p.started
		p.mu.Unlock()
		if !started {
			return
		}

		p.cancel()

		timer := time.NewTimer(p.cfg.StopTimeout)
		defer timer.Stop()

		select {
		case <-p.done:
			p.log.Debug().Msg("process.stopped")
		case <-timer.C:
			p.log.Warn().Dur("timeout", p.cfg.StopTimeout).Msg("process.stop_timeout")
			_ = p.cmd.Process.Kill()
			_ = p.stdout.Close()
			_ = p.stderr.Close()
		}
	})
}

// Done is closed once the process has been reaped. Output can end well
// before that.
func (p *ProcessSource) Done() <-chan struct{} { return p.done }

// Err returns the terminal read error once output has ended, joined with the
// exit error once Done is closed. A clean exit, or an exit caused by Stop,
// reports nil.
func (p *ProcessSource) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *ProcessSource) isStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

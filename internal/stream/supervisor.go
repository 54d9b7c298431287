package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/tailexplorer/internal/hub"
	"github.com/tinytelemetry/tailexplorer/internal/linebuffer"
	"github.com/tinytelemetry/tailexplorer/internal/logsource"
	"github.com/tinytelemetry/tailexplorer/internal/metrics"
	"github.com/tinytelemetry/tailexplorer/internal/model"
)

// exitWait bounds how long an ended stream waits for the exit status before
// reporting; a process that outlives its stdout is stopped afterwards.
const exitWait = time.Second

type eventKind int

const (
	evAttach eventKind = iota
	evDetach
	evSnapshot
	evLine
	evEnded
)

type event struct {
	kind  eventKind
	run   uint64
	sub   hub.Subscriber
	lines []string
	line  string
	err   error
	ack   chan struct{}
}

type supervisorConfig struct {
	spec    SourceSpec
	hub     *hub.Hub
	factory ProcessFactory
	policy  logsource.SnapshotPolicy
	grace   time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
	retire  func(*Supervisor)
}

// Supervisor owns the lifecycle of one source. All state changes happen on a
// single goroutine that consumes attach, detach and process events in order,
// so a source never has more than one process and its lines are broadcast in
// the order they were read.
type Supervisor struct {
	id      model.SourceID
	spec    SourceSpec
	hub     *hub.Hub
	buf     *linebuffer.Buffer
	factory ProcessFactory
	policy  logsource.SnapshotPolicy
	graceD  time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
	retire  func(*Supervisor)

	ctx    context.Context
	events chan event
	quit   chan struct{}

	// Owned by the loop goroutine.
	proc         Process
	run          uint64
	stopReader   context.CancelFunc
	snapshotDone bool
	armed        bool
	grace        *time.Timer

	mu      sync.Mutex
	state   State
	running bool
	lastErr error
}

func newSupervisor(ctx context.Context, cfg supervisorConfig) *Supervisor {
	s := &Supervisor{
		id:      cfg.spec.ID,
		spec:    cfg.spec,
		hub:     cfg.hub,
		buf:     linebuffer.New(cfg.spec.MaxLines, cfg.spec.CleanupThreshold),
		factory: cfg.factory,
		policy:  cfg.policy,
		graceD:  cfg.grace,
		log:     cfg.log.With().Str("component", "supervisor").Str("source", string(cfg.spec.ID)).Logger(),
		metrics: cfg.metrics,
		retire:  cfg.retire,
		ctx:     ctx,
		events:  make(chan event, 64),
		quit:    make(chan struct{}),
		armed:   true,
	}
	s.metrics.SetState(string(s.id), Idle.String(), StateNames())
	go s.loop()
	return s
}

// attach registers sub and waits until the loop has handled it. It reports
// false if the supervisor retired first.
func (s *Supervisor) attach(sub hub.Subscriber) bool {
	return s.call(event{kind: evAttach, sub: sub})
}

func (s *Supervisor) detach(sub hub.Subscriber) bool {
	return s.call(event{kind: evDetach, sub: sub})
}

func (s *Supervisor) call(ev event) bool {
	ev.ack = make(chan struct{})
	select {
	case s.events <- ev:
	case <-s.quit:
		return false
	}
	select {
	case <-ev.ack:
		return true
	case <-s.quit:
		select {
		case <-ev.ack:
			return true
		default:
			return false
		}
	}
}

// Done is closed once the supervisor has stopped its process and left the
// registry.
func (s *Supervisor) Done() <-chan struct{} { return s.quit }

// Recent returns up to n buffered lines, oldest first.
func (s *Supervisor) Recent(n int) []model.LogLine { return s.buf.Recent(n) }

// Status reports the current state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st, running, lastErr := s.state, s.running, s.lastErr
	s.mu.Unlock()
	maxLines, _ := s.buf.Limits()
	return Status{
		ID:            s.id,
		State:         st,
		Subscribers:   s.hub.Count(s.id),
		Running:       running,
		BufferedLines: s.buf.Len(),
		MaxLines:      maxLines,
		LastError:     lastErr,
	}
}

func (s *Supervisor) loop() {
	defer close(s.quit)
	defer s.retire(s)

	for {
		var graceC <-chan time.Time
		if s.grace != nil {
			graceC = s.grace.C
		}

		select {
		case ev := <-s.events:
			if s.handle(ev) {
				s.log.Debug().Msg("supervisor.retired")
				return
			}
		case <-graceC:
			s.grace = nil
			s.expire()
			return
		case <-s.ctx.Done():
			s.shutdown()
			return
		}
	}
}

// handle applies one event and reports whether the supervisor is finished.
func (s *Supervisor) handle(ev event) bool {
	switch ev.kind {
	case evAttach:
		defer close(ev.ack)
		return s.onAttach(ev.sub)
	case evDetach:
		defer close(ev.ack)
		if _, removed := s.hub.Detach(s.id, ev.sub); !removed {
			return false
		}
		return s.checkEmpty()
	case evSnapshot:
		if ev.run != s.run || s.proc == nil {
			return false
		}
		return s.onSnapshot(ev.lines)
	case evLine:
		if ev.run != s.run || s.proc == nil {
			return false
		}
		return s.onLine(ev.line)
	case evEnded:
		if ev.run != s.run || s.proc == nil {
			return false
		}
		return s.onEnded(ev.err)
	}
	return false
}

func (s *Supervisor) onAttach(sub hub.Subscriber) bool {
	n, added := s.hub.Attach(s.id, sub)
	if !added {
		return false
	}
	s.metrics.SetSubscribers(string(s.id), n)

	switch {
	case s.grace != nil:
		// Back from Draining: the process never stopped.
		s.grace.Stop()
		s.grace = nil
		s.armed = false
		s.setState(Streaming)
		s.log.Info().Int("subscribers", n).Msg("supervisor.resumed")
		if s.snapshotDone {
			return s.sendHistory(sub)
		}
	case s.proc == nil && s.armed:
		s.armed = false
		s.start()
		return s.checkEmpty()
	case s.proc == nil || s.snapshotDone:
		return s.sendHistory(sub)
	}
	// Still in the snapshot phase; sub gets the snapshot broadcast.
	return false
}

// checkEmpty handles a population that may have dropped to zero. The process
// keeps running through Draining and is stopped once, when the grace timer
// fires, so a subscriber returning in time reuses it.
func (s *Supervisor) checkEmpty() bool {
	n := s.hub.Count(s.id)
	s.metrics.SetSubscribers(string(s.id), n)
	if n > 0 {
		return false
	}

	s.armed = true
	if s.proc == nil {
		return true
	}
	if s.grace == nil {
		s.grace = time.NewTimer(s.graceD)
		s.setState(Draining)
		s.log.Info().Dur("grace_period", s.graceD).Msg("supervisor.draining")
	}
	return false
}

func (s *Supervisor) start() {
	s.setState(Starting)

	proc := s.factory(s.spec, s.log)
	if err := proc.Start(s.ctx); err != nil {
		s.log.Error().Err(err).Strs("command", s.spec.Command).Msg("supervisor.spawn_failed")
		s.metrics.ProcessStarted(string(s.id), "spawn_error")
		s.setLastErr(err)
		s.broadcast(model.ErrorMessage(s.id, "Failed to start log source: "+err.Error()))
		s.setState(Idle)
		return
	}
	s.metrics.ProcessStarted(string(s.id), "ok")
	s.setLastErr(nil)

	s.run++
	rctx, cancel := context.WithCancel(s.ctx)
	s.proc = proc
	s.stopReader = cancel
	s.snapshotDone = false
	s.setState(Streaming)
	s.log.Info().Uint64("run", s.run).Msg("supervisor.started")

	go s.read(rctx, s.run, proc)
}

// read feeds one process run into the loop. It exits when the stream ends or
// the run is cancelled.
func (s *Supervisor) read(ctx context.Context, run uint64, proc Process) {
	lines, ok := proc.Snapshot(ctx, s.policy)
	if !s.post(ctx, event{kind: evSnapshot, run: run, lines: lines}) {
		return
	}
	for ok {
		var line string
		line, ok = proc.ReadLine(ctx)
		if !ok {
			break
		}
		if !s.post(ctx, event{kind: evLine, run: run, line: line}) {
			return
		}
	}
	timer := time.NewTimer(exitWait)
	defer timer.Stop()
	select {
	case <-proc.Done():
	case <-timer.C:
	case <-ctx.Done():
		return
	}
	s.post(ctx, event{kind: evEnded, run: run, err: proc.Err()})
}

func (s *Supervisor) post(ctx context.Context, ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) onSnapshot(lines []string) bool {
	batch := make([]model.LogLine, len(lines))
	for i, l := range lines {
		batch[i] = model.LogLine{Source: s.id, Text: l}
	}
	s.buf.AppendAll(batch)
	s.snapshotDone = true
	s.metrics.AddLines(string(s.id), len(lines))
	s.metrics.SetBufferedLines(string(s.id), s.buf.Len())
	s.log.Debug().Int("lines", len(lines)).Msg("supervisor.snapshot")

	if s.broadcast(model.InitialLogs(s.id, lines)) {
		return s.checkEmpty()
	}
	return false
}

func (s *Supervisor) onLine(line string) bool {
	s.buf.Append(model.LogLine{Source: s.id, Text: line})
	s.metrics.AddLines(string(s.id), 1)
	s.metrics.SetBufferedLines(string(s.id), s.buf.Len())

	if s.broadcast(model.NewLog(s.id, line)) {
		return s.checkEmpty()
	}
	return false
}

// onEnded handles a process whose output ended on its own. Subscribers stay
// attached and nothing restarts it until the population drops to zero and
// comes back.
func (s *Supervisor) onEnded(err error) bool {
	s.releaseProcess()
	s.metrics.ProcessExited(string(s.id), "ended")

	evt := s.log.Info()
	if err != nil {
		evt = s.log.Warn().Err(err)
		s.setLastErr(fmt.Errorf("%w: %w", ErrStreamEnded, err))
	} else {
		s.setLastErr(ErrStreamEnded)
	}
	evt.Int("buffered", s.buf.Len()).Msg("supervisor.stream_ended")

	s.setState(Idle)
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
		return true
	}
	return false
}

func (s *Supervisor) expire() {
	s.setState(Stopping)
	s.log.Info().Msg("supervisor.stopping")
	s.releaseProcess()
	s.metrics.ProcessExited(string(s.id), "stopped")
	s.setState(Idle)
}

func (s *Supervisor) shutdown() {
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	if s.proc != nil {
		s.setState(Stopping)
		s.releaseProcess()
		s.metrics.ProcessExited(string(s.id), "stopped")
	}
	s.setState(Idle)
	s.log.Debug().Msg("supervisor.shutdown")
}

// releaseProcess cancels the reader and stops the current process.
func (s *Supervisor) releaseProcess() {
	if s.stopReader != nil {
		s.stopReader()
		s.stopReader = nil
	}
	if s.proc != nil {
		s.proc.Stop()
		s.proc = nil
	}
	s.snapshotDone = false
}

func (s *Supervisor) sendHistory(sub hub.Subscriber) bool {
	msg := model.InitialLogs(s.id, model.Texts(s.buf.Snapshot()))
	o := s.hub.Send(s.id, sub, msg)
	switch o {
	case hub.Delivered:
		s.metrics.RecordDelivery(string(s.id), 1, 0, 0)
	case hub.Dropped:
		s.metrics.RecordDelivery(string(s.id), 0, 1, 0)
	case hub.Evicted:
		s.metrics.RecordDelivery(string(s.id), 0, 0, 1)
		return s.checkEmpty()
	}
	return false
}

// broadcast reports whether any subscriber was evicted.
func (s *Supervisor) broadcast(msg model.Message) bool {
	d := s.hub.Broadcast(s.id, msg)
	s.metrics.RecordDelivery(string(s.id), d.Sent, d.Dropped, d.Evicted)
	return d.Evicted > 0
}

func (s *Supervisor) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.running = s.proc != nil
	s.mu.Unlock()

	if prev != st {
		s.metrics.SetState(string(s.id), st.String(), StateNames())
		s.log.Debug().Stringer("from", prev).Stringer("to", st).Msg("supervisor.state")
	}
}

// Package stream runs one supervised process per log source and fans its
// output out to the source's subscribers.
package stream

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/tailexplorer/internal/hub"
	"github.com/tinytelemetry/tailexplorer/internal/logsource"
	"github.com/tinytelemetry/tailexplorer/internal/metrics"
	"github.com/tinytelemetry/tailexplorer/internal/model"
)

// Options tunes a Registry. Zero values fall back to defaults.
type Options struct {
	GracePeriod time.Duration
	StopTimeout time.Duration
	Snapshot    logsource.SnapshotPolicy
	Factory     ProcessFactory
	Policy      hub.Policy
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = model.DefaultGracePeriod
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = model.DefaultStopTimeout
	}
	if o.Snapshot == (logsource.SnapshotPolicy{}) {
		o.Snapshot = logsource.DefaultSnapshotPolicy()
	}
	if o.Factory == nil {
		o.Factory = ExecFactory(o.StopTimeout)
	}
	return o
}

// Registry maps source ids to their supervisors, creating a supervisor on
// first subscribe and dropping it once the source has drained to zero.
type Registry struct {
	specs map[model.SourceID]SourceSpec
	hub   *hub.Hub
	opts  Options
	log   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	sups   map[model.SourceID]*Supervisor
	closed bool
}

// NewRegistry builds a registry over a fixed set of sources.
func NewRegistry(specs []SourceSpec, opts Options) (*Registry, error) {
	opts = opts.withDefaults()

	byID := make(map[model.SourceID]SourceSpec, len(specs))
	for _, sp := range specs {
		if sp.ID == "" {
			return nil, errors.New("source spec has empty id")
		}
		if _, dup := byID[sp.ID]; dup {
			return nil, fmt.Errorf("duplicate source id %q", sp.ID)
		}
		sp.Command = slices.Clone(sp.Command)
		byID[sp.ID] = sp
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		specs:  byID,
		hub:    hub.New(opts.Logger, opts.Policy),
		opts:   opts,
		log:    opts.Logger.With().Str("component", "registry").Logger(),
		ctx:    ctx,
		cancel: cancel,
		sups:   make(map[model.SourceID]*Supervisor),
	}, nil
}

// Subscribe attaches sub to a source, starting the source's process if sub is
// its first subscriber.
func (r *Registry) Subscribe(id model.SourceID, sub hub.Subscriber) error {
	spec, ok := r.specs[id]
	if !ok {
		return fmt.Errorf("subscribe %q: %w", id, ErrUnknownSource)
	}

	for {
		sup, err := r.supervisorFor(spec)
		if err != nil {
			return err
		}
		if sup.attach(sub) {
			r.log.Debug().Str("source", string(id)).Str("subscriber", sub.ID()).Msg("registry.subscribed")
			return nil
		}
		// It retired between lookup and attach; the next lookup creates a
		// fresh one.
	}
}

// Unsubscribe detaches sub. Unknown sources and subscribers are ignored.
func (r *Registry) Unsubscribe(id model.SourceID, sub hub.Subscriber) {
	r.mu.Lock()
	sup := r.sups[id]
	r.mu.Unlock()

	if sup == nil {
		return
	}
	if sup.detach(sub) {
		r.log.Debug().Str("source", string(id)).Str("subscriber", sub.ID()).Msg("registry.unsubscribed")
	}
}

// RecentLines returns up to n of the source's buffered lines. Any id without
// a live supervisor, configured or not, reports ErrSourceNotActive.
func (r *Registry) RecentLines(id model.SourceID, n int) ([]model.LogLine, error) {
	r.mu.Lock()
	sup := r.sups[id]
	r.mu.Unlock()

	if sup == nil {
		return nil, fmt.Errorf("recent lines %q: %w", id, ErrSourceNotActive)
	}
	return sup.Recent(n), nil
}

// Sources returns every configured spec, sorted by id.
func (r *Registry) Sources() []SourceSpec {
	out := make([]SourceSpec, 0, len(r.specs))
	for _, sp := range r.specs {
		out = append(out, sp)
	}
	slices.SortFunc(out, func(a, b SourceSpec) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Spec returns the spec for id.
func (r *Registry) Spec(id model.SourceID) (SourceSpec, bool) {
	sp, ok := r.specs[id]
	return sp, ok
}

// Status reports a source's state. Unsupervised sources are Idle.
func (r *Registry) Status(id model.SourceID) (Status, error) {
	if _, ok := r.specs[id]; !ok {
		return Status{}, fmt.Errorf("status %q: %w", id, ErrUnknownSource)
	}
	r.mu.Lock()
	sup := r.sups[id]
	r.mu.Unlock()

	if sup == nil {
		return Status{ID: id, State: Idle}, nil
	}
	return sup.Status(), nil
}

// Close stops every supervised process and waits for the supervisors to
// finish or for ctx to expire. Subscribe fails with ErrRegistryClosed
// afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sups := make([]*Supervisor, 0, len(r.sups))
	for _, s := range r.sups {
		sups = append(sups, s)
	}
	r.mu.Unlock()

	r.cancel()

	for _, s := range sups {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return fmt.Errorf("close registry: %w", ctx.Err())
		}
	}
	r.log.Info().Int("supervisors", len(sups)).Msg("registry.closed")
	return nil
}

func (r *Registry) supervisorFor(spec SourceSpec) (*Supervisor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if sup, ok := r.sups[spec.ID]; ok {
		return sup, nil
	}

	sup := newSupervisor(r.ctx, supervisorConfig{
		spec:    spec,
		hub:     r.hub,
		factory: r.opts.Factory,
		policy:  r.opts.Snapshot,
		grace:   r.opts.GracePeriod,
		log:     r.opts.Logger,
		metrics: r.opts.Metrics,
		retire:  r.retire,
	})
	r.sups[spec.ID] = sup
	r.log.Debug().Str("source", string(spec.ID)).Msg("registry.supervisor_created")
	return sup, nil
}

func (r *Registry) retire(s *Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sups[s.id] == s {
		delete(r.sups, s.id)
	}
}

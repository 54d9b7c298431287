// Package hub tracks which subscribers are attached to which source and fans
// messages out to them.
package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/tailexplorer/internal/model"
)

// Subscriber is one remote endpoint. The transport owns its lifetime; the hub
// only holds it in a set and writes to it. Send must not block.
type Subscriber interface {
	ID() string
	Send(msg model.Message) error
}

// Hub keeps the attached subscribers of every source.
type Hub struct {
	mu     sync.RWMutex
	sets   map[model.SourceID]map[Subscriber]struct{}
	policy Policy
	log    zerolog.Logger
}

// New creates a hub. A nil policy means AtMostOnce.
func New(log zerolog.Logger, policy Policy) *Hub {
	if policy == nil {
		policy = AtMostOnce
	}
	return &Hub{
		sets:   make(map[model.SourceID]map[Subscriber]struct{}),
		policy: policy,
		log:    log.With().Str("component", "hub").Logger(),
	}
}

// Attach adds sub to the source's set. It returns the population afterwards
// and whether sub was newly added; attaching the same subscriber twice is a
// no-op.
func (h *Hub) Attach(id model.SourceID, sub Subscriber) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sets[id]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.sets[id] = set
	}
	if _, ok := set[sub]; ok {
		return len(set), false
	}
	set[sub] = struct{}{}

	h.log.Debug().Str("source", string(id)).Str("subscriber", sub.ID()).Int("population", len(set)).Msg("hub.attached")
	return len(set), true
}

// Detach removes sub and reports the population afterwards and whether sub
// was attached at all. An emptied set is dropped.
func (h *Hub) Detach(id model.SourceID, sub Subscriber) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detachLocked(id, sub)
}

func (h *Hub) detachLocked(id model.SourceID, sub Subscriber) (int, bool) {
	set, ok := h.sets[id]
	if !ok {
		return 0, false
	}
	if _, ok := set[sub]; !ok {
		return len(set), false
	}
	delete(set, sub)
	n := len(set)
	if n == 0 {
		delete(h.sets, id)
	}
	h.log.Debug().Str("source", string(id)).Str("subscriber", sub.ID()).Int("population", n).Msg("hub.detached")
	return n, true
}

// Count returns the number of attached subscribers for a source.
func (h *Hub) Count(id model.SourceID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sets[id])
}

// Broadcast offers msg to every subscriber of the source independently.
// Failures are handled by the policy and never abort delivery to the rest.
func (h *Hub) Broadcast(id model.SourceID, msg model.Message) Delivery {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.sets[id]))
	for s := range h.sets[id] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	var d Delivery
	var evict []Subscriber
	for _, s := range subs {
		o := h.policy(s.Send(msg))
		d.add(o)
		if o == Evicted {
			evict = append(evict, s)
		}
	}

	if len(evict) > 0 {
		h.evict(id, evict)
	}
	if d.Dropped > 0 {
		h.log.Warn().
			Str("source", string(id)).
			Int("dropped", d.Dropped).
			Int("total_subscribers", len(subs)).
			Str("reason", "slow_subscriber").
			Msg("hub.dropped")
	}
	return d
}

// Send delivers msg to a single attached subscriber under the same policy.
func (h *Hub) Send(id model.SourceID, sub Subscriber, msg model.Message) Outcome {
	h.mu.RLock()
	_, attached := h.sets[id][sub]
	h.mu.RUnlock()
	if !attached {
		return Dropped
	}

	o := h.policy(sub.Send(msg))
	if o == Evicted {
		h.evict(id, []Subscriber{sub})
	}
	return o
}

func (h *Hub) evict(id model.SourceID, subs []Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range subs {
		if _, removed := h.detachLocked(id, s); removed {
			h.log.Info().Str("source", string(id)).Str("subscriber", s.ID()).Msg("hub.evicted")
		}
	}
}

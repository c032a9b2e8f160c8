package client

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

// Reconciler merges the registry roster with the hub's live presence into
// one participant view. Live events show up immediately; a user on whom
// the two sources disagree for a full interval is shown as the registry
// says.
type Reconciler struct {
	interval time.Duration
	now      func() time.Time

	mu         sync.Mutex
	registry   domain.Roster
	regVersion int64
	live       domain.Roster
	liveSeq    uint64
	haveLive   bool
	// first time each user was seen in only one source
	since map[domain.UserID]time.Time
}

const defaultReconcileInterval = 2 * time.Second

// NewReconciler falls back to a 2s interval when interval is below a
// millisecond.
func NewReconciler(interval time.Duration) *Reconciler {
	if interval < time.Millisecond {
		interval = defaultReconcileInterval
	}
	return &Reconciler{
		interval: interval,
		now:      time.Now,
		registry: domain.NewRoster(),
		live:     domain.NewRoster(),
		since:    make(map[domain.UserID]time.Time),
	}
}

// ApplyRoom takes a registry snapshot. Snapshots older than the last one
// applied are ignored.
func (r *Reconciler) ApplyRoom(room domain.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room.Version != 0 && room.Version <= r.regVersion {
		return
	}
	r.regVersion = room.Version
	r.registry = domain.NewRoster(room.Members...)
	r.track(r.now())
}

// ApplyEvent takes a hub event. Events at or below the last seen sequence
// are dropped; a session_state snapshot replaces the live set.
func (r *Reconciler) ApplyEvent(ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Type {
	case core.EventSnapshot:
		if r.haveLive && ev.Seq < r.liveSeq {
			return
		}
		r.live = domain.NewRoster(ev.Participants...)
	case core.EventParticipantJoined:
		if r.haveLive && ev.Seq <= r.liveSeq {
			return
		}
		r.live[ev.User] = struct{}{}
	case core.EventParticipantLeft:
		if r.haveLive && ev.Seq <= r.liveSeq {
			return
		}
		delete(r.live, ev.User)
	case core.EventSessionEnded:
		r.live = domain.NewRoster()
	default:
		return
	}
	r.haveLive = true
	r.liveSeq = max(r.liveSeq, ev.Seq)
	r.track(r.now())
}

// track records when each disagreement started and forgets settled ones.
func (r *Reconciler) track(now time.Time) {
	for u := range r.since {
		if r.live.Has(u) == r.registry.Has(u) || !r.haveLive {
			delete(r.since, u)
		}
	}
	if !r.haveLive {
		return
	}
	for _, set := range []domain.Roster{r.live, r.registry} {
		for u := range set {
			if r.live.Has(u) != r.registry.Has(u) {
				if _, ok := r.since[u]; !ok {
					r.since[u] = now
				}
			}
		}
	}
}

// Participants is the current merged view, sorted.
func (r *Reconciler) Participants() []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.haveLive {
		return r.registry.Sorted()
	}
	now := r.now()
	view := domain.NewRoster()
	for _, set := range []domain.Roster{r.live, r.registry} {
		for u := range set {
			inLive, inReg := r.live.Has(u), r.registry.Has(u)
			show := inLive
			if inLive != inReg {
				if start, ok := r.since[u]; ok && now.Sub(start) >= r.interval {
					show = inReg
				}
			}
			if show {
				view[u] = struct{}{}
			}
		}
	}
	return view.Sorted()
}

// Pending lists users on whom the sources currently disagree.
func (r *Reconciler) Pending() []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.since))
}

// Run feeds rooms and events into r and calls emit whenever the view
// changes, checking for expired disagreements twice per interval. A nil or
// closed input is simply not read. Run returns when ctx is done.
func (r *Reconciler) Run(ctx context.Context, rooms <-chan domain.Room, events <-chan core.Event, emit func([]domain.UserID)) {
	ticker := time.NewTicker(r.interval / 2)
	defer ticker.Stop()

	var last []domain.UserID
	sent := false
	publish := func() {
		view := r.Participants()
		if sent && slices.Equal(view, last) {
			return
		}
		last, sent = view, true
		if emit != nil {
			emit(view)
		}
	}
	publish()

	for {
		select {
		case <-ctx.Done():
			return
		case room, ok := <-rooms:
			if !ok {
				log.Debug().Str("module", "client.presence").Msg("registry stream closed")
				rooms = nil
				continue
			}
			r.ApplyRoom(room)
		case ev, ok := <-events:
			if !ok {
				log.Debug().Str("module", "client.presence").Msg("event stream closed")
				events = nil
				continue
			}
			r.ApplyEvent(ev)
		case <-ticker.C:
		}
		publish()
	}
}

package app

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/dkeye/devrooms/internal/idgen"
	"github.com/rs/zerolog/log"
)

// Registry is the authoritative view of rooms: creation, lookup, listing
// and status changes. Membership is left to Admission.
type Registry struct {
	store    core.RoomStore
	notifier core.Notifier
	limits   domain.Limits

	now   func() time.Time
	newID func() domain.RoomID
}

func NewRegistry(store core.RoomStore, notifier core.Notifier, limits domain.Limits) *Registry {
	return &Registry{
		store:    store,
		notifier: notifier,
		limits:   limits,
		now:      time.Now,
		newID:    idgen.NewRoomID,
	}
}

func (r *Registry) Create(ctx context.Context, admin domain.UserID, spec domain.RoomSpec) (domain.Room, error) {
	room, err := domain.NewRoom(r.newID(), admin, spec, r.limits, r.now().UTC())
	if err != nil {
		return domain.Room{}, err
	}
	if err := r.store.Create(ctx, room); err != nil {
		return domain.Room{}, err
	}
	log.Info().Str("module", "app.registry").Str("room", string(room.ID)).Str("admin", string(admin)).
		Int("max", room.MaxParticipants).Msg("room created")
	return room, nil
}

func (r *Registry) Get(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	return r.store.Get(ctx, id)
}

// List returns rooms matching f in creation order.
func (r *Registry) List(ctx context.Context, f domain.Filter) ([]domain.Room, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Room, 0, len(all))
	for _, room := range all {
		if f.Match(room) {
			out = append(out, room)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Room) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// SetStatus applies an admin status change. Closing through here does not
// end the RTC session; callers that close rooms go through the orchestrator.
func (r *Registry) SetStatus(ctx context.Context, id domain.RoomID, actor domain.UserID, to domain.Status) (domain.Room, error) {
	var changed bool
	room, err := r.store.Update(ctx, id, func(room *domain.Room) (bool, error) {
		var err error
		changed, err = room.ChangeStatus(actor, to)
		return changed, err
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("room", string(id)).
			Str("actor", string(actor)).Str("to", string(to)).Msg("status change rejected")
		return domain.Room{}, err
	}
	if changed {
		log.Info().Str("module", "app.registry").Str("room", string(id)).Str("status", string(room.Status)).Msg("status changed")
		r.notifier.Publish(ctx, room)
	}
	return room, nil
}

package app

import (
	"context"

	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/dkeye/devrooms/internal/idgen"
	"github.com/rs/zerolog/log"
)

// Admission owns membership. Every mutation is a single store update, so
// the capacity check and the insert can never be split by another join.
type Admission struct {
	store      core.RoomStore
	notifier   core.Notifier
	newSession func() domain.SessionHandle
}

func NewAdmission(store core.RoomStore, notifier core.Notifier) *Admission {
	return &Admission{
		store:      store,
		notifier:   notifier,
		newSession: idgen.NewSessionHandle,
	}
}

// Join admits user and binds the room's session handle in the same update.
// A repeated join by a member returns the room unchanged.
func (a *Admission) Join(ctx context.Context, id domain.RoomID, user domain.UserID) (domain.Room, error) {
	var changed bool
	room, err := a.store.Update(ctx, id, func(r *domain.Room) (bool, error) {
		admitted, err := r.Admit(user)
		if err != nil {
			return false, err
		}
		bound := r.BindSession(a.newSession)
		changed = admitted || bound
		return changed, nil
	})
	if err != nil {
		log.Info().Err(err).Str("module", "app.admission").Str("room", string(id)).Str("user", string(user)).Msg("join rejected")
		return domain.Room{}, err
	}
	if changed {
		log.Info().Str("module", "app.admission").Str("room", string(id)).Str("user", string(user)).
			Int("members", len(room.Members)).Msg("joined")
		a.notifier.Publish(ctx, room)
	}
	return room, nil
}

// Leave removes user if present. It never fails because of room status.
func (a *Admission) Leave(ctx context.Context, id domain.RoomID, user domain.UserID) (domain.Room, error) {
	var changed bool
	room, err := a.store.Update(ctx, id, func(r *domain.Room) (bool, error) {
		changed = r.Evict(user)
		return changed, nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	if changed {
		log.Info().Str("module", "app.admission").Str("room", string(id)).Str("user", string(user)).
			Int("members", len(room.Members)).Msg("left")
		a.notifier.Publish(ctx, room)
	}
	return room, nil
}

package app

import (
	"context"

	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/dkeye/devrooms/internal/idgen"
	"github.com/rs/zerolog/log"
)

// Binder maps a room to its single RTC session handle.
type Binder struct {
	store      core.RoomStore
	notifier   core.Notifier
	newSession func() domain.SessionHandle
}

func NewBinder(store core.RoomStore, notifier core.Notifier) *Binder {
	return &Binder{
		store:      store,
		notifier:   notifier,
		newSession: idgen.NewSessionHandle,
	}
}

// Bind returns the room's session handle, creating it if the room has none.
// Concurrent first binds resolve to one handle because the check and the
// write happen inside one store update.
func (b *Binder) Bind(ctx context.Context, id domain.RoomID, actor domain.UserID) (domain.SessionHandle, error) {
	var created bool
	room, err := b.store.Update(ctx, id, func(r *domain.Room) (bool, error) {
		if err := r.RequireMember(actor); err != nil {
			return false, err
		}
		if r.Status == domain.StatusClosed {
			return false, domain.ErrRoomClosed
		}
		created = r.BindSession(b.newSession)
		return created, nil
	})
	if err != nil {
		return "", err
	}
	if created {
		log.Info().Str("module", "app.binder").Str("room", string(id)).Str("session", string(room.SessionHandle)).Msg("session bound")
		b.notifier.Publish(ctx, room)
	}
	return room.SessionHandle, nil
}

package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/devrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

// Ack reports a termination. SessionEnded is false when the room never had
// a session or ending it failed.
type Ack struct {
	Room         domain.Room `json:"room"`
	SessionEnded bool        `json:"sessionEnded"`
}

// Terminate closes the room and ends its RTC session. It runs to completion
// even if ctx is cancelled. Terminating an already closed room is allowed
// for the admin and re-issues the session end, so a failed end can be
// retried.
func (o *Orchestrator) Terminate(ctx context.Context, id domain.RoomID, actor domain.UserID) (Ack, error) {
	ctx, cancel := o.detached(ctx)
	defer cancel()

	room, err := o.Registry.SetStatus(ctx, id, actor, domain.StatusClosed)
	if errors.Is(err, domain.ErrInvalidTransition) {
		room, err = o.Registry.Get(ctx, id)
		if err == nil {
			err = room.RequireAdmin(actor)
		}
	}
	if err != nil {
		return Ack{}, err
	}

	ack := Ack{Room: room}
	if room.SessionHandle == "" {
		log.Info().Str("module", "orch").Str("room", string(id)).Msg("terminated room without session")
		return ack, nil
	}
	if err := o.Sessions.EndSession(ctx, room.SessionHandle); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(id)).
			Str("session", string(room.SessionHandle)).Msg("end session failed")
		return ack, fmt.Errorf("%w: end session: %v", domain.ErrTransport, err)
	}
	ack.SessionEnded = true
	log.Info().Str("module", "orch").Str("room", string(id)).Str("session", string(room.SessionHandle)).
		Str("actor", string(actor)).Msg("terminated")
	return ack, nil
}

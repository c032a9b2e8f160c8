package orch

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/dkeye/devrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

// SetStatus routes closing through Terminate so a closed room never keeps a
// live RTC session. Other targets go straight to the registry.
func (o *Orchestrator) SetStatus(ctx context.Context, id domain.RoomID, actor domain.UserID, to domain.Status) (domain.Room, error) {
	if to == domain.StatusClosed {
		ack, err := o.Terminate(ctx, id, actor)
		return ack.Room, err
	}
	return o.Registry.SetStatus(ctx, id, actor, to)
}

// JoinRandom joins some room that is not closed and has a free slot.
// Candidates are tried in random order; losing a race for the last slot
// moves on to the next one.
func (o *Orchestrator) JoinRandom(ctx context.Context, user domain.UserID) (domain.Room, error) {
	rooms, err := o.Registry.List(ctx, domain.Filter{})
	if err != nil {
		return domain.Room{}, err
	}
	candidates := make([]domain.RoomID, 0, len(rooms))
	for _, r := range rooms {
		if r.Status == domain.StatusClosed {
			continue
		}
		if r.IsFull() && !r.HasMember(user) {
			continue
		}
		candidates = append(candidates, r.ID)
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	for _, id := range candidates {
		room, err := o.Admission.Join(ctx, id, user)
		switch {
		case err == nil:
			return room, nil
		case errors.Is(err, domain.ErrRoomFull), errors.Is(err, domain.ErrRoomClosed), errors.Is(err, domain.ErrNotFound):
			continue
		default:
			return domain.Room{}, err
		}
	}
	return domain.Room{}, domain.ErrNotFound
}

// OnParticipantDisconnected is called by the RTC provider when the last
// connection of user to a session drops. It clears the membership record
// the client could not clear itself (crash, lost network).
func (o *Orchestrator) OnParticipantDisconnected(id domain.RoomID, session domain.SessionHandle, user domain.UserID) {
	ctx, cancel := o.detached(context.Background())
	defer cancel()
	room, err := o.Admission.Leave(ctx, id, user)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(id)).Str("user", string(user)).
			Msg("disconnect cleanup failed")
		return
	}
	log.Info().Str("module", "orch").Str("room", string(id)).Str("session", string(session)).
		Str("user", string(user)).Int("members", len(room.Members)).Msg("participant disconnected")
}

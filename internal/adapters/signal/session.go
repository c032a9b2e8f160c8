package signal

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/dkeye/devrooms/internal/app"
	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type session struct {
	room  domain.RoomID
	seq   uint64
	peers map[*peer]struct{}
	// connections per user; presence changes only on 0 <-> 1
	count map[domain.UserID]int
}

func (s *session) participants() []domain.UserID {
	return slices.Sorted(maps.Keys(s.count))
}

// attach registers p and announces it. It reports false when the session
// has already ended; p then only receives session.ended.
func (h *Hub) attach(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ended := h.ended[p.session]; ended {
		h.send(p, core.SignalMessage{Type: string(core.EventSessionEnded)}, true)
		p.conn.Close()
		log.Info().Str("module", "signal").Str("session", string(p.session)).Str("user", string(p.user)).
			Msg("connection to ended session")
		return false
	}

	s, ok := h.sessions[p.session]
	if !ok {
		s = &session{
			room:  p.room,
			peers: make(map[*peer]struct{}),
			count: make(map[domain.UserID]int),
		}
		h.sessions[p.session] = s
	}
	s.peers[p] = struct{}{}
	s.count[p.user]++
	if s.count[p.user] == 1 {
		s.seq++
		h.broadcast(s, p, core.SignalMessage{
			Type: string(core.EventParticipantJoined),
			User: p.user,
			Seq:  s.seq,
		})
	}
	h.send(p, core.SignalMessage{
		Type:         string(core.EventSnapshot),
		Participants: s.participants(),
		Seq:          s.seq,
	}, true)
	return true
}

// detach removes p. Disconnects from ended sessions are not reported.
func (h *Hub) detach(p *peer) {
	h.mu.Lock()
	s, ok := h.sessions[p.session]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := s.peers[p]; !ok {
		h.mu.Unlock()
		return
	}
	delete(s.peers, p)
	s.count[p.user]--
	last := s.count[p.user] <= 0
	if last {
		delete(s.count, p.user)
		s.seq++
		h.broadcast(s, nil, core.SignalMessage{
			Type: string(core.EventParticipantLeft),
			User: p.user,
			Seq:  s.seq,
		})
	}
	h.mu.Unlock()

	log.Info().Str("module", "signal").Str("peer", p.id).Str("user", string(p.user)).
		Str("session", string(p.session)).Bool("last", last).Msg("detached")
	if last && h.OnDisconnect != nil {
		h.OnDisconnect(p.room, p.session, p.user)
	}
}

// EndSession closes every connection of session after delivering
// session.ended. Ending twice is a no-op; later connections to an ended
// session are told it ended and dropped.
func (h *Hub) EndSession(_ context.Context, handle domain.SessionHandle) error {
	now := time.Now()
	h.mu.Lock()
	if _, done := h.ended[handle]; done {
		h.mu.Unlock()
		return nil
	}
	h.pruneEnded(now)
	h.ended[handle] = now

	var peers []*peer
	var seq uint64
	if s, ok := h.sessions[handle]; ok {
		delete(h.sessions, handle)
		s.seq++
		seq = s.seq
		peers = slices.Collect(maps.Keys(s.peers))
	}
	h.mu.Unlock()

	var wg conc.WaitGroup
	for _, p := range peers {
		wg.Go(func() {
			h.send(p, core.SignalMessage{Type: string(core.EventSessionEnded), Seq: seq}, true)
			p.conn.Close()
			if mc := p.getMedia(); mc != nil {
				mc.Close()
			}
		})
	}
	wg.Wait()

	log.Info().Str("module", "signal").Str("session", string(handle)).Int("peers", len(peers)).Msg("session ended")
	return nil
}

// Participants returns the users currently connected to handle.
func (h *Hub) Participants(handle domain.SessionHandle) []domain.UserID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[handle]; ok {
		return s.participants()
	}
	return nil
}

// pruneEnded forgets ended sessions whose tokens can no longer be valid.
func (h *Hub) pruneEnded(now time.Time) {
	horizon := now.Add(-h.tokens.TTL())
	for handle, at := range h.ended {
		if at.Before(horizon) {
			delete(h.ended, handle)
		}
	}
}

func (h *Hub) broadcast(s *session, except *peer, msg core.SignalMessage) {
	for p := range s.peers {
		if p == except {
			continue
		}
		h.send(p, msg, false)
	}
}

// send queues msg for p. critical messages get the peer kicked rather than
// silently dropped when its queue is full.
func (h *Hub) send(p *peer, msg core.SignalMessage, critical bool) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	err = p.conn.TrySend(b)
	if !errors.Is(err, ErrBackpressure) {
		return
	}
	switch h.policy.OnBackPressure(p.session, p.user, critical) {
	case app.KickMember:
		log.Warn().Str("module", "signal").Str("peer", p.id).Str("user", string(p.user)).Msg("kicking slow peer")
		p.conn.Close()
	case app.DropFrame, app.NoAction:
		log.Debug().Str("module", "signal").Str("peer", p.id).Str("type", msg.Type).Msg("dropped frame")
	}
}

package signal

import (
	"context"

	"github.com/dkeye/devrooms/internal/adapters/rtc"
	"github.com/dkeye/devrooms/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (h *Hub) sendCandidate(p *peer, ci webrtc.ICECandidateInit) {
	msg := core.SignalMessage{
		Type:      core.SignalCandidate,
		Candidate: ci.Candidate,
	}
	if ci.SDPMid != nil {
		msg.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		msg.SDPMLineIndex = *ci.SDPMLineIndex
	}
	h.send(p, msg, false)
}

// handleOffer opens the optional media leg of p and answers the offer.
// A new offer replaces the previous leg.
func (h *Hub) handleOffer(p *peer, msg core.SignalMessage) {
	wc, err := rtc.NewWebRTCConnection(h.cfg.WebRTC, p.id)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc new pc")
		h.send(p, core.SignalMessage{Type: core.SignalError, Error: "media_unavailable"}, false)
		return
	}

	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		h.sendCandidate(p, ci)
	})
	wc.OnClosed(func() {
		log.Info().Str("module", "signal").Str("peer", p.id).Msg("media leg closed")
	})

	if err = wc.Start(context.Background()); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc start")
		wc.Close()
		return
	}

	answer, err := wc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  msg.SDP,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
		wc.Close()
		h.send(p, core.SignalMessage{Type: core.SignalError, Error: "bad_offer"}, false)
		return
	}

	p.setMedia(wc)
	h.send(p, core.SignalMessage{Type: core.SignalAnswer, SDP: answer.SDP}, false)
}

func (h *Hub) handleCandidate(p *peer, msg core.SignalMessage) {
	mc := p.getMedia()
	if mc == nil || mc.IsClosed() {
		log.Warn().Str("module", "signal").Str("peer", p.id).Msg("candidate: no media connection")
		return
	}

	cand := webrtc.ICECandidateInit{Candidate: msg.Candidate}
	if msg.SDPMid != "" {
		cand.SDPMid = &msg.SDPMid
	}
	idx := msg.SDPMLineIndex
	cand.SDPMLineIndex = &idx

	if err := mc.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add ice candidate")
	}
}

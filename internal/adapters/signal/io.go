package signal

import (
	"context"
	"time"

	"github.com/dkeye/devrooms/internal/core"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (h *Hub) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, p *peer) {
	c := p.conn
	defer func() {
		h.detach(p)
		if mc := p.getMedia(); mc != nil {
			mc.Close()
		}
		c.Close()
		log.Debug().Str("module", "signal").Str("peer", p.id).Msg("readPump closing")
	}()

	pongWait := h.cfg.PingPeriod * 10 / 9
	c.conn.SetReadLimit(h.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("peer", p.id).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if !h.handleSignal(p, data) {
			return
		}
	}
}

// handleSignal dispatches one client message. It returns false when the
// peer asked to leave.
func (h *Hub) handleSignal(p *peer, data []byte) bool {
	var msg core.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		h.send(p, core.SignalMessage{Type: core.SignalError, Error: "bad_payload"}, false)
		return true
	}

	switch msg.Type {
	case core.SignalPing:
		h.handlePing(p)
	case core.SignalLeave:
		log.Info().Str("module", "signal").Str("peer", p.id).Str("user", string(p.user)).Msg("leave")
		return false
	case core.SignalOffer:
		h.handleOffer(p, msg)
	case core.SignalCandidate:
		h.handleCandidate(p, msg)
	default:
		log.Warn().Str("module", "signal").Str("type", msg.Type).Msg("unknown signal")
		h.send(p, core.SignalMessage{Type: core.SignalError, Error: "unknown_type"}, false)
	}
	return true
}

package signal

import "github.com/dkeye/devrooms/internal/core"

func (h *Hub) handlePing(p *peer) {
	h.send(p, core.SignalMessage{Type: core.SignalPong}, false)
}

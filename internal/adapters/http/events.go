package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const eventsWriteWait = 5 * time.Second

var eventsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Events streams full room snapshots: the current one on connect, then one
// per committed change. The client only reads; closing the socket ends the
// subscription.
func (h *Handlers) Events(ctx context.Context, c *gin.Context) {
	id := roomID(c)
	room, err := h.Orch.Registry.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates, unsubscribe := h.Notifier.Subscribe(ctx, id)
	defer unsubscribe()

	ws, err := eventsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("events upgrade")
		return
	}
	defer func() { _ = ws.Close() }()

	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Debug().Str("module", "adapters.http").Str("room", string(id)).Str("user", string(currentUser(c))).Msg("events subscribed")
	if !writeRoom(ws, room) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(eventsWriteWait))
			return
		case r, ok := <-updates:
			if !ok {
				return
			}
			if r.Version <= room.Version {
				continue
			}
			room = r
			if !writeRoom(ws, room) {
				return
			}
		}
	}
}

func writeRoom(ws *websocket.Conn, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	_ = ws.SetWriteDeadline(time.Now().Add(eventsWriteWait))
	return ws.WriteMessage(websocket.TextMessage, b) == nil
}

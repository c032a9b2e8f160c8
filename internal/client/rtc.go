package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/devrooms/internal/app"
	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const leaveWait = 5 * time.Second

// WSConnector connects to the signal hub of the server behind API.
type WSConnector struct {
	API *API
}

var _ core.Connector = (*WSConnector)(nil)

// CreateOrJoin fetches a session token for room and opens the hub socket.
// The token decides the session; session is only checked against it.
func (c *WSConnector) CreateOrJoin(ctx context.Context, room domain.RoomID, session domain.SessionHandle, user domain.UserID) (core.Connection, error) {
	if user != c.API.User() {
		return nil, fmt.Errorf("%w: connector bound to %s", domain.ErrForbidden, c.API.User())
	}
	tok, err := c.API.Token(ctx, room)
	if err != nil {
		return nil, err
	}
	if session != "" && tok.SessionHandle != session {
		return nil, fmt.Errorf("%w: session moved from %s to %s", domain.ErrTransport, session, tok.SessionHandle)
	}
	ws, err := c.API.dial(ctx, "/rtc/signal?token="+url.QueryEscape(tok.Token))
	if err != nil {
		return nil, err
	}

	conn := &wsConnection{
		ws:      ws,
		session: tok.SessionHandle,
		events:  make(chan core.Event, 64),
		done:    make(chan struct{}),
	}
	go conn.readLoop()
	log.Debug().Str("module", "client.rtc").Str("room", string(room)).Str("session", string(tok.SessionHandle)).
		Str("user", string(user)).Msg("connected")
	return conn, nil
}

type wsConnection struct {
	ws      *websocket.Conn
	session domain.SessionHandle
	events  chan core.Event
	done    chan struct{}

	writeMu sync.Mutex
	once    sync.Once
}

func (c *wsConnection) Events() <-chan core.Event { return c.events }

func (c *wsConnection) readLoop() {
	defer func() {
		close(c.events)
		close(c.done)
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg core.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("module", "client.rtc").Msg("bad signal")
			continue
		}
		switch t := core.EventType(msg.Type); t {
		case core.EventSnapshot, core.EventParticipantJoined, core.EventParticipantLeft, core.EventSessionEnded:
			app.Offer(c.events, core.Event{Type: t, User: msg.User, Participants: msg.Participants, Seq: msg.Seq})
		case core.SignalError:
			log.Warn().Str("module", "client.rtc").Str("error", msg.Error).Msg("hub error")
		}
	}
}

// Leave tells the hub we are going and waits for it to close the socket.
// Calling it again is a no-op.
func (c *wsConnection) Leave(ctx context.Context) error {
	var err error
	c.once.Do(func() {
		b, _ := json.Marshal(core.SignalMessage{Type: core.SignalLeave})
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(leaveWait))
		werr := c.ws.WriteMessage(websocket.TextMessage, b)
		c.writeMu.Unlock()

		if werr == nil {
			select {
			case <-c.done:
			case <-ctx.Done():
				err = ctx.Err()
			case <-time.After(leaveWait):
			}
		}
		_ = c.ws.Close()
		<-c.done
	})
	return err
}

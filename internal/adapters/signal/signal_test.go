package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/devrooms/internal/app"
	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type disconnect struct {
	room    domain.RoomID
	session domain.SessionHandle
	user    domain.UserID
}

type hubFixture struct {
	hub         *Hub
	tokens      *Tokens
	srv         *httptest.Server
	disconnects chan disconnect
}

func newHubFixture(t *testing.T, limiter *RoomRateLimiter) *hubFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens := NewTokens("test-secret", time.Minute)
	hub := NewHub(tokens, limiter, app.SimplePolicy{}, Config{PingPeriod: 5 * time.Second})
	f := &hubFixture{hub: hub, tokens: tokens, disconnects: make(chan disconnect, 16)}
	hub.OnDisconnect = func(room domain.RoomID, session domain.SessionHandle, user domain.UserID) {
		f.disconnects <- disconnect{room, session, user}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/rtc/signal", func(c *gin.Context) { hub.HandleSignal(ctx, c) })
	f.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		f.srv.Close()
	})
	return f
}

func (f *hubFixture) url(token string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/rtc/signal?token=" + token
}

func (f *hubFixture) dial(t *testing.T, session domain.SessionHandle, user domain.UserID) *websocket.Conn {
	t.Helper()
	tok, err := f.tokens.Issue("room-1", session, user)
	require.NoError(t, err)
	ws, _, err := websocket.DefaultDialer.Dial(f.url(tok.Token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readMsg(t *testing.T, ws *websocket.Conn) core.SignalMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg core.SignalMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeMsg(t *testing.T, ws *websocket.Conn, msg core.SignalMessage) {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))
}

func TestPresenceEvents(t *testing.T) {
	f := newHubFixture(t, nil)

	a := f.dial(t, "s1", "alice")
	snap := readMsg(t, a)
	assert.Equal(t, string(core.EventSnapshot), snap.Type)
	assert.Equal(t, []domain.UserID{"alice"}, snap.Participants)
	assert.Equal(t, uint64(1), snap.Seq)

	b := f.dial(t, "s1", "bob")
	joined := readMsg(t, a)
	assert.Equal(t, string(core.EventParticipantJoined), joined.Type)
	assert.Equal(t, domain.UserID("bob"), joined.User)
	assert.Equal(t, uint64(2), joined.Seq)

	snap = readMsg(t, b)
	assert.Equal(t, []domain.UserID{"alice", "bob"}, snap.Participants)
	assert.Equal(t, uint64(2), snap.Seq)

	writeMsg(t, b, core.SignalMessage{Type: core.SignalLeave})
	left := readMsg(t, a)
	assert.Equal(t, string(core.EventParticipantLeft), left.Type)
	assert.Equal(t, domain.UserID("bob"), left.User)
	assert.Equal(t, uint64(3), left.Seq)

	select {
	case d := <-f.disconnects:
		assert.Equal(t, disconnect{"room-1", "s1", "bob"}, d)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect reported")
	}
	assert.Equal(t, []domain.UserID{"alice"}, f.hub.Participants("s1"))
}

func TestSecondConnectionOfSameUser(t *testing.T) {
	f := newHubFixture(t, nil)

	a := f.dial(t, "s1", "alice")
	readMsg(t, a)
	a2 := f.dial(t, "s1", "alice")
	snap := readMsg(t, a2)
	assert.Equal(t, []domain.UserID{"alice"}, snap.Participants)

	writeMsg(t, a2, core.SignalMessage{Type: core.SignalLeave})
	writeMsg(t, a, core.SignalMessage{Type: core.SignalPing})
	assert.Equal(t, core.SignalPong, readMsg(t, a).Type, "no presence change while one connection remains")

	select {
	case d := <-f.disconnects:
		t.Fatalf("unexpected disconnect %v", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEndSession(t *testing.T) {
	f := newHubFixture(t, nil)

	a := f.dial(t, "s1", "alice")
	readMsg(t, a)
	b := f.dial(t, "s1", "bob")
	readMsg(t, b)
	readMsg(t, a) // bob joined

	require.NoError(t, f.hub.EndSession(context.Background(), "s1"))
	require.NoError(t, f.hub.EndSession(context.Background(), "s1"))

	for _, ws := range []*websocket.Conn{a, b} {
		assert.Equal(t, string(core.EventSessionEnded), readMsg(t, ws).Type)
		_, _, err := ws.ReadMessage()
		assert.Error(t, err, "server closes after session end")
	}

	late := f.dial(t, "s1", "carol")
	assert.Equal(t, string(core.EventSessionEnded), readMsg(t, late).Type)
	assert.Empty(t, f.hub.Participants("s1"))

	select {
	case d := <-f.disconnects:
		t.Fatalf("ended sessions do not report disconnects, got %v", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRejectsBadToken(t *testing.T) {
	f := newHubFixture(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(f.url("garbage"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other := NewTokens("another-secret", time.Minute)
	tok, err := other.Issue("room-1", "s1", "mallory")
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(f.url(tok.Token), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoinRateLimit(t *testing.T) {
	f := newHubFixture(t, NewRoomRateLimiter(1, time.Minute))

	f.dial(t, "s1", "alice")
	tok, err := f.tokens.Issue("room-1", "s1", "alice")
	require.NoError(t, err)
	_, resp, err := websocket.DefaultDialer.Dial(f.url(tok.Token), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestUnknownMessage(t *testing.T) {
	f := newHubFixture(t, nil)
	a := f.dial(t, "s1", "alice")
	readMsg(t, a)

	writeMsg(t, a, core.SignalMessage{Type: "dance"})
	msg := readMsg(t, a)
	assert.Equal(t, core.SignalError, msg.Type)
	assert.Equal(t, "unknown_type", msg.Error)
}

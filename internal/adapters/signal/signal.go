package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/devrooms/internal/app"
	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Config struct {
	ReadLimit  int64
	PingPeriod time.Duration
	WebRTC     webrtc.Configuration
}

// Hub is the RTC provider: it tracks who is connected to which session,
// stamps presence events with a per-session sequence and ends sessions on
// request.
type Hub struct {
	tokens  *Tokens
	limiter *RoomRateLimiter
	policy  app.Policy
	cfg     Config

	// OnDisconnect fires when the last connection of a user to a live
	// session drops.
	OnDisconnect func(room domain.RoomID, session domain.SessionHandle, user domain.UserID)

	mu       sync.Mutex
	sessions map[domain.SessionHandle]*session
	ended    map[domain.SessionHandle]time.Time
}

var _ core.SessionEnder = (*Hub)(nil)

func NewHub(tokens *Tokens, limiter *RoomRateLimiter, policy app.Policy, cfg Config) *Hub {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 54 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 32768
	}
	return &Hub{
		tokens:   tokens,
		limiter:  limiter,
		policy:   policy,
		cfg:      cfg,
		sessions: make(map[domain.SessionHandle]*session),
		ended:    make(map[domain.SessionHandle]time.Time),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close stops accepting frames. The write pump flushes what is queued, sends
// a close frame and then drops the socket.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

type peer struct {
	id      string
	user    domain.UserID
	room    domain.RoomID
	session domain.SessionHandle
	conn    *WsSignalConn

	mu    sync.Mutex
	media core.MediaConnection
}

func (p *peer) setMedia(mc core.MediaConnection) {
	p.mu.Lock()
	old := p.media
	p.media = mc
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (p *peer) getMedia() core.MediaConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.media
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "code": code, "message": msg})
}

// HandleSignal authenticates the session token, upgrades the connection and
// attaches the peer. ctx bounds the lifetime of the pumps.
func (h *Hub) HandleSignal(ctx context.Context, c *gin.Context) {
	claims, err := h.tokens.Parse(c.Query("token"))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("rejected token")
		abort(c, http.StatusUnauthorized, domain.CodeUnauthenticated, "invalid session token")
		return
	}
	if !h.limiter.Allow(claims.User) {
		log.Warn().Str("module", "signal").Str("user", string(claims.User)).Msg("join rate limited")
		abort(c, http.StatusTooManyRequests, domain.CodeTransportFailure, "too many connection attempts")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	p := &peer{
		id:      uuid.NewString(),
		user:    claims.User,
		room:    claims.Room,
		session: claims.Session,
		conn: &WsSignalConn{
			conn: ws,
			send: make(chan core.Frame, 32),
		},
	}
	log.Info().Str("module", "signal").Str("peer", p.id).Str("user", string(p.user)).
		Str("session", string(p.session)).Msg("new WS connection")

	go h.writePump(ctx, p.conn)
	if h.attach(p) {
		go h.readPump(ctx, p)
	}
}

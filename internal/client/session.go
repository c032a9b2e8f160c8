package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateJoined
	StateLeaving
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateEnded:
		return "ended"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Registry is the part of the room API a handle needs. *API satisfies it.
type Registry interface {
	Join(ctx context.Context, id domain.RoomID) (domain.Room, error)
	Leave(ctx context.Context, id domain.RoomID) (domain.Room, error)
	Bind(ctx context.Context, id domain.RoomID) (domain.SessionHandle, error)
}

const defaultReleaseTimeout = 10 * time.Second

type Option func(*Handle)

// WithEventSink receives every presence event of the connection, in order,
// from the handle's watcher goroutine.
func WithEventSink(fn func(core.Event)) Option {
	return func(h *Handle) { h.sink = fn }
}

func WithReleaseTimeout(d time.Duration) Option {
	return func(h *Handle) { h.releaseTimeout = d }
}

// Handle owns one user's presence in one room: a membership record plus
// an RTC connection. It is acquired at most once and always released,
// including when the server ends the session.
type Handle struct {
	reg            Registry
	connector      core.Connector
	room           domain.RoomID
	user           domain.UserID
	sink           func(core.Event)
	releaseTimeout time.Duration

	mu        sync.Mutex
	state     State
	started   bool
	abandoned bool
	cancelAcq context.CancelFunc
	acquired  chan struct{}
	done      chan struct{}
	err       error
	conn      core.Connection
	session   domain.SessionHandle
	snapshot  domain.Room
}

func NewHandle(reg Registry, connector core.Connector, room domain.RoomID, user domain.UserID, opts ...Option) *Handle {
	h := &Handle{
		reg:            reg,
		connector:      connector,
		room:           room,
		user:           user,
		releaseTimeout: defaultReleaseTimeout,
		acquired:       make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err is the reason the handle failed to acquire, if it did.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed once the handle reaches StateEnded.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Session() domain.SessionHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// Room is the snapshot returned by the join.
func (h *Handle) Room() domain.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot.Clone()
}

// Acquire joins the room, binds its session and connects. Only the first
// call does any work; later calls wait for its outcome. Cancelling ctx
// while connecting abandons the acquisition and undoes the join once the
// join request has resolved.
func (h *Handle) Acquire(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		select {
		case <-h.acquired:
			return h.Err()
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		}
	}
	h.started = true
	h.state = StateConnecting
	actx, cancel := context.WithCancel(ctx)
	h.cancelAcq = cancel
	h.mu.Unlock()
	defer cancel()

	return h.acquire(actx)
}

func (h *Handle) acquire(ctx context.Context) error {
	// The join is waited out even when ctx ends, so the compensating leave
	// is only sent once the server has answered it.
	jctx, jcancel := context.WithTimeout(context.WithoutCancel(ctx), h.releaseTimeout)
	room, err := h.reg.Join(jctx, h.room)
	jcancel()
	if err != nil {
		return h.fail(ctx, err, !domain.IsRejection(err))
	}
	if ctx.Err() != nil {
		return h.fail(ctx, domain.ErrCancelled, true)
	}
	session, err := h.reg.Bind(ctx, h.room)
	if err != nil {
		return h.fail(ctx, err, true)
	}
	if ctx.Err() != nil {
		return h.fail(ctx, domain.ErrCancelled, true)
	}
	conn, err := h.connector.CreateOrJoin(ctx, h.room, session, h.user)
	if err != nil {
		if !errors.Is(err, domain.ErrCancelled) && domain.Code(err) == domain.CodeInternal {
			err = fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		return h.fail(ctx, err, true)
	}

	h.mu.Lock()
	if h.abandoned {
		h.mu.Unlock()
		h.closeConn(conn)
		return h.fail(ctx, domain.ErrCancelled, true)
	}
	h.state = StateJoined
	h.conn = conn
	h.session = session
	h.snapshot = room
	close(h.acquired)
	h.mu.Unlock()

	log.Info().Str("module", "client.session").Str("room", string(h.room)).Str("user", string(h.user)).
		Str("session", string(session)).Msg("joined")
	go h.watch(conn)
	return nil
}

// fail ends a handle that never reached StateJoined. compensate undoes a
// join that may have been applied.
func (h *Handle) fail(ctx context.Context, err error, compensate bool) error {
	if ctx.Err() != nil && !domain.IsRejection(err) && !errors.Is(err, domain.ErrCancelled) {
		err = fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	if compensate {
		h.leaveRegistry(ctx)
	}

	h.mu.Lock()
	h.state = StateEnded
	h.err = err
	close(h.acquired)
	close(h.done)
	h.mu.Unlock()

	log.Info().Err(err).Str("module", "client.session").Str("room", string(h.room)).Str("user", string(h.user)).
		Bool("compensated", compensate).Msg("acquire failed")
	return err
}

func (h *Handle) leaveRegistry(ctx context.Context) {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.releaseTimeout)
	defer cancel()
	if _, err := h.reg.Leave(lctx, h.room); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Warn().Err(err).Str("module", "client.session").Str("room", string(h.room)).
			Str("user", string(h.user)).Msg("leave failed")
	}
}

func (h *Handle) closeConn(conn core.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), h.releaseTimeout)
	defer cancel()
	if err := conn.Leave(ctx); err != nil {
		log.Debug().Err(err).Str("module", "client.session").Str("room", string(h.room)).Msg("connection leave")
	}
}

// watch forwards presence events until the connection goes away. A
// session.ended event or a lost connection releases the handle.
func (h *Handle) watch(conn core.Connection) {
	for ev := range conn.Events() {
		if h.sink != nil {
			h.sink(ev)
		}
		if ev.Type == core.EventSessionEnded {
			log.Info().Str("module", "client.session").Str("room", string(h.room)).Str("user", string(h.user)).
				Msg("session ended by server")
			break
		}
	}
	if h.State() == StateJoined {
		_ = h.Release(context.Background())
	}
}

// Release leaves the room and closes the connection. It runs to completion
// even if ctx is already cancelled and is a no-op once the handle is
// leaving or ended. Releasing a handle that is still connecting abandons
// the acquisition and waits for its cleanup.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	switch h.state {
	case StateIdle:
		h.started = true
		h.state = StateEnded
		h.err = domain.ErrCancelled
		close(h.acquired)
		close(h.done)
		h.mu.Unlock()
		return nil
	case StateConnecting:
		h.abandoned = true
		h.cancelAcq()
		h.mu.Unlock()
		select {
		case <-h.done:
		case <-time.After(2 * h.releaseTimeout):
		}
		return nil
	case StateLeaving, StateEnded:
		h.mu.Unlock()
		return nil
	}
	h.state = StateLeaving
	conn := h.conn
	h.mu.Unlock()

	h.closeConn(conn)
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.releaseTimeout)
	defer cancel()
	_, err := h.reg.Leave(rctx, h.room)

	h.mu.Lock()
	h.state = StateEnded
	close(h.done)
	h.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("module", "client.session").Str("room", string(h.room)).Str("user", string(h.user)).
			Msg("release leave failed")
		return err
	}
	log.Info().Str("module", "client.session").Str("room", string(h.room)).Str("user", string(h.user)).Msg("released")
	return nil
}

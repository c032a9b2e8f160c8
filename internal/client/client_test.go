package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	roomhttp "github.com/dkeye/devrooms/internal/adapters/http"
	"github.com/dkeye/devrooms/internal/adapters/signal"
	"github.com/dkeye/devrooms/internal/adapters/store"
	"github.com/dkeye/devrooms/internal/app"
	"github.com/dkeye/devrooms/internal/app/orch"
	"github.com/dkeye/devrooms/internal/config"
	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reconcileInterval = 200 * time.Millisecond

func newServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())

	s := store.NewMemoryStore()
	n := app.NewLocalNotifier()
	tokens := signal.NewTokens("e2e-secret", time.Minute)
	hub := signal.NewHub(tokens, nil, app.SimplePolicy{}, signal.Config{PingPeriod: 5 * time.Second})
	o := &orch.Orchestrator{
		Registry:  app.NewRegistry(s, n, domain.DefaultLimits),
		Admission: app.NewAdmission(s, n),
		Binder:    app.NewBinder(s, n),
		Sessions:  hub,
		Tokens:    tokens,
		Timeout:   2 * time.Second,
	}
	hub.OnDisconnect = o.OnParticipantDisconnected

	r := roomhttp.SetupRouter(ctx, &config.Config{Mode: "test", Secret: "cookie"}, roomhttp.NewHandlers(o, n), hub)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv.URL
}

func newAPI(t *testing.T, base string, user domain.UserID) *API {
	t.Helper()
	api, err := NewAPI(Config{BaseURL: base, User: user})
	require.NoError(t, err)
	return api
}

func newClientHandle(api *API, id domain.RoomID, opts ...Option) *Handle {
	return NewHandle(api, &WSConnector{API: api}, id, api.User(), opts...)
}

// countingRegistry counts joins that reach the network.
type countingRegistry struct {
	*API
	joins atomic.Int32
}

func (c *countingRegistry) Join(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	c.joins.Add(1)
	return c.API.Join(ctx, id)
}

func TestAPIErrorsKeepTheirCode(t *testing.T) {
	base := newServer(t)
	alice := newAPI(t, base, "alice")
	ctx := context.Background()

	_, err := alice.Create(ctx, RoomRequest{Title: "no stack", MaxParticipants: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidRoom)

	_, err = alice.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	room, err := alice.Create(ctx, RoomRequest{Title: "Go katas", TechStack: []string{"Go"}, Tags: []string{"tdd"}, MaxParticipants: 3})
	require.NoError(t, err)

	bob := newAPI(t, base, "bob")
	_, _, err = bob.Terminate(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = bob.Token(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	rooms, err := bob.List(ctx, domain.Filter{Tags: []string{"tdd"}})
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, room.ID, rooms[0].ID)

	rooms, err = bob.List(ctx, domain.Filter{Active: true})
	require.NoError(t, err)
	assert.Empty(t, rooms)

	joined, err := bob.JoinRandom(ctx)
	require.NoError(t, err)
	assert.Equal(t, room.ID, joined.ID)

	updated, err := alice.SetStatus(ctx, room.ID, domain.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, updated.Status)

	_, err = newAPI(t, "http://127.0.0.1:1", "carol").Get(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

// Capacity two: A and B get in, C is turned away, and terminating the room
// ends both handles without any per-client call.
func TestCapacityAndTermination(t *testing.T) {
	base := newServer(t)
	ctx := context.Background()
	a, b, c := newAPI(t, base, "A"), newAPI(t, base, "B"), newAPI(t, base, "C")

	room, err := a.Create(ctx, RoomRequest{Title: "pairing", TechStack: []string{"Go"}, MaxParticipants: 2})
	require.NoError(t, err)

	ha := newClientHandle(a, room.ID)
	require.NoError(t, ha.Acquire(ctx))
	got, err := a.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"A"}, got.Members)
	assert.Equal(t, domain.StatusOpen, got.Status)

	hb := newClientHandle(b, room.ID)
	require.NoError(t, hb.Acquire(ctx))
	got, err = a.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.UserID{"A", "B"}, got.Members)
	assert.Equal(t, ha.Session(), hb.Session())

	hc := newClientHandle(c, room.ID)
	assert.ErrorIs(t, hc.Acquire(ctx), domain.ErrRoomFull)
	assert.Equal(t, StateEnded, hc.State())
	got, err = a.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.UserID{"A", "B"}, got.Members)

	closed, ended, err := a.Terminate(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, ended)
	assert.Equal(t, domain.StatusClosed, closed.Status)

	for _, h := range []*Handle{ha, hb} {
		select {
		case <-h.Done():
		case <-time.After(reconcileInterval * 10):
			require.Fail(t, "handle still joined after termination")
		}
		assert.Equal(t, StateEnded, h.State())
	}

	require.Eventually(t, func() bool {
		r, err := a.Get(ctx, room.ID)
		return err == nil && len(r.Members) == 0
	}, 2*time.Second, 20*time.Millisecond)

	_, err = c.Join(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrRoomClosed)
}

func TestDuplicateAcquireJoinsOnce(t *testing.T) {
	base := newServer(t)
	ctx := context.Background()
	admin := newAPI(t, base, "admin")
	room, err := admin.Create(ctx, RoomRequest{Title: "mob", TechStack: []string{"Go"}, MaxParticipants: 4})
	require.NoError(t, err)
	_, err = admin.Join(ctx, room.ID)
	require.NoError(t, err)

	user := newAPI(t, base, "dup")
	reg := &countingRegistry{API: user}
	h := NewHandle(reg, &WSConnector{API: user}, room.ID, user.User())

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.Acquire(ctx))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), reg.joins.Load())

	got, err := admin.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, got.Members, 2)

	require.NoError(t, h.Release(ctx))
	require.NoError(t, h.Release(ctx))
	got, err = admin.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"admin"}, got.Members)
}

func TestPresenceAcrossClients(t *testing.T) {
	base := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, b := newAPI(t, base, "A"), newAPI(t, base, "B")

	room, err := a.Create(ctx, RoomRequest{Title: "live", TechStack: []string{"Go"}, MaxParticipants: 3})
	require.NoError(t, err)

	events := make(chan core.Event, 32)
	ha := newClientHandle(a, room.ID, WithEventSink(func(ev core.Event) { app.Offer(events, ev) }))
	require.NoError(t, ha.Acquire(ctx))
	defer func() { _ = ha.Release(context.Background()) }()

	rooms, err := a.Watch(ctx, room.ID)
	require.NoError(t, err)

	rec := NewReconciler(reconcileInterval)
	views := make(chan []domain.UserID, 32)
	go rec.Run(ctx, rooms, events, func(v []domain.UserID) { app.Offer(views, v) })

	waitView := func(want ...domain.UserID) {
		t.Helper()
		deadline := time.After(reconcileInterval * 10)
		for {
			select {
			case v := <-views:
				if assert.ObjectsAreEqual(want, v) {
					return
				}
			case <-deadline:
				require.Failf(t, "view never settled", "want %v, have %v", want, rec.Participants())
			}
		}
	}

	waitView("A")
	hb := newClientHandle(b, room.ID)
	require.NoError(t, hb.Acquire(ctx))
	waitView("A", "B")

	require.NoError(t, hb.Release(ctx))
	waitView("A")
}

// slowJoinTransport delivers join requests to the server after a delay even
// when the caller has stopped waiting, like a request already on the wire.
type slowJoinTransport struct {
	delay time.Duration
	next  http.RoundTripper
}

func (t slowJoinTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !strings.Contains(req.URL.Path, "/rooms/join/") {
		return t.next.RoundTrip(req)
	}
	type result struct {
		resp *http.Response
		err  error
	}
	out := make(chan result, 1)
	sent := req.Clone(context.WithoutCancel(req.Context()))
	go func() {
		time.Sleep(t.delay)
		resp, err := t.next.RoundTrip(sent)
		out <- result{resp, err}
	}()
	select {
	case r := <-out:
		return r.resp, r.err
	case <-req.Context().Done():
		go func() {
			if r := <-out; r.resp != nil {
				_ = r.resp.Body.Close()
			}
		}()
		return nil, req.Context().Err()
	}
}

func TestCancelledAcquireLeavesNoMembership(t *testing.T) {
	base := newServer(t)
	admin := newAPI(t, base, "admin")
	room, err := admin.Create(context.Background(), RoomRequest{Title: "slow link", TechStack: []string{"Go"}, MaxParticipants: 3})
	require.NoError(t, err)

	bob, err := NewAPI(Config{
		BaseURL:    base,
		User:       "bob",
		HTTPClient: &http.Client{Transport: slowJoinTransport{delay: 150 * time.Millisecond, next: http.DefaultTransport}},
	})
	require.NoError(t, err)
	h := newClientHandle(bob, room.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Acquire(ctx), domain.ErrCancelled)
	assert.Equal(t, StateEnded, h.State())

	// Give a late join time to land if it were still outstanding.
	time.Sleep(300 * time.Millisecond)
	got, err := admin.Get(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Members)
}

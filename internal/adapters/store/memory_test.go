package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRoom(t *testing.T, s core.RoomStore, id domain.RoomID, capacity int) domain.Room {
	t.Helper()
	r, err := domain.NewRoom(id, "admin", domain.RoomSpec{
		Title:           "room " + string(id),
		TechStack:       []string{"Go"},
		MaxParticipants: capacity,
	}, domain.DefaultLimits, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), r))
	return r
}

func admit(u domain.UserID) core.UpdateFunc {
	return func(r *domain.Room) (bool, error) { return r.Admit(u) }
}

// runStoreContract is shared by the memory and Redis stores.
func runStoreContract(t *testing.T, newStore func(t *testing.T) core.RoomStore) {
	ctx := context.Background()

	t.Run("create get list", func(t *testing.T) {
		s := newStore(t)
		a := seedRoom(t, s, "a", 4)
		seedRoom(t, s, "b", 4)

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, a.Title, got.Title)

		all, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, domain.RoomID("a"), all[0].ID)

		_, err = s.Get(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = s.Create(ctx, a)
		assert.ErrorIs(t, err, domain.ErrInvalidRoom)
	})

	t.Run("update bumps version only on change", func(t *testing.T) {
		s := newStore(t)
		seedRoom(t, s, "a", 4)

		r, err := s.Update(ctx, "a", admit("u1"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), r.Version)

		r, err = s.Update(ctx, "a", admit("u1"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), r.Version)

		_, err = s.Update(ctx, "missing", admit("u1"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("failed update commits nothing", func(t *testing.T) {
		s := newStore(t)
		seedRoom(t, s, "a", 4)
		boom := errors.New("boom")

		_, err := s.Update(ctx, "a", func(r *domain.Room) (bool, error) {
			r.Members = append(r.Members, "ghost")
			return true, boom
		})
		assert.ErrorIs(t, err, boom)

		r, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, r.Members)
		assert.Equal(t, int64(1), r.Version)
	})

	t.Run("concurrent joins on last slot", func(t *testing.T) {
		s := newStore(t)
		seedRoom(t, s, "a", 2)
		_, err := s.Update(ctx, "a", admit("first"))
		require.NoError(t, err)

		var ok, full atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for _, u := range []domain.UserID{"b", "c"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := s.Update(ctx, "a", admit(u))
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, domain.ErrRoomFull):
					full.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), ok.Load())
		assert.Equal(t, int32(1), full.Load())
		r, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Len(t, r.Members, 2)
	})

	t.Run("capacity holds under contention", func(t *testing.T) {
		s := newStore(t)
		seedRoom(t, s, "a", 5)

		var wg sync.WaitGroup
		var admitted atomic.Int32
		for i := range 40 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Update(ctx, "a", admit(domain.UserID(fmt.Sprintf("u%d", i)))); err == nil {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()

		r, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Len(t, r.Members, 5)
		assert.Equal(t, int32(5), admitted.Load())
		assert.Equal(t, int64(6), r.Version)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) core.RoomStore { return NewMemoryStore() })
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	seedRoom(t, s, "a", 3)
	ctx := context.Background()

	r, err := s.Update(ctx, "a", admit("u1"))
	require.NoError(t, err)
	r.Members[0] = "tampered"

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"u1"}, got.Members)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	seedRoom(t, s, "a", 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Update(ctx, "a", admit("u1"))
	assert.ErrorIs(t, err, domain.ErrTransport)
}

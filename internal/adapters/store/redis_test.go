package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to ROOMS_TEST_REDIS_ADDR and flushes the selected
// database (15). Tests are skipped when the variable is unset.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("ROOMS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ROOMS_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	require.NoError(t, rdb.Ping(ctx).Err())
	require.NoError(t, rdb.FlushDB(ctx).Err())
	t.Cleanup(func() {
		_ = rdb.FlushDB(context.Background()).Err()
		_ = rdb.Close()
	})
	return rdb
}

func TestRedisStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) core.RoomStore {
		return NewRedisStore(newTestRedis(t))
	})
}

func TestRedisNotifier(t *testing.T) {
	rdb := newTestRedis(t)
	n := NewRedisNotifier(rdb)
	ctx := context.Background()

	ch, cancel := n.Subscribe(ctx, "r1")
	defer cancel()
	// Subscribe is asynchronous on the server side.
	time.Sleep(100 * time.Millisecond)

	n.Publish(ctx, domain.Room{ID: "r2", Version: 1})
	n.Publish(ctx, domain.Room{ID: "r1", Version: 7})

	select {
	case r := <-ch:
		assert.Equal(t, domain.RoomID("r1"), r.ID)
		assert.Equal(t, int64(7), r.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

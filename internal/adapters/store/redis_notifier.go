package store

import (
	"context"
	"sync"

	"github.com/dkeye/devrooms/internal/app"
	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func eventsChannel(id domain.RoomID) string {
	return "rooms:events:" + string(id)
}

// RedisNotifier publishes room snapshots over Redis pub/sub so watchers on
// every server instance see changes committed by any of them.
type RedisNotifier struct {
	rdb *redis.Client
}

var _ core.Notifier = (*RedisNotifier)(nil)

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Publish(ctx context.Context, room domain.Room) {
	b, err := json.Marshal(room)
	if err != nil {
		log.Error().Err(err).Str("module", "store.redis").Msg("publish marshal")
		return
	}
	if err := n.rdb.Publish(context.WithoutCancel(ctx), eventsChannel(room.ID), b).Err(); err != nil {
		log.Warn().Err(err).Str("module", "store.redis").Str("room", string(room.ID)).Msg("publish failed")
	}
}

func (n *RedisNotifier) Subscribe(ctx context.Context, id domain.RoomID) (<-chan domain.Room, func()) {
	ctx, cancel := context.WithCancel(ctx)
	ps := n.rdb.Subscribe(ctx, eventsChannel(id))
	out := make(chan domain.Room, 8)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var r domain.Room
				if err := json.Unmarshal([]byte(m.Payload), &r); err != nil {
					log.Warn().Err(err).Str("module", "store.redis").Msg("bad room event")
					continue
				}
				app.Offer(out, r)
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			cancel()
			_ = ps.Close()
			wg.Wait()
		})
	}
}

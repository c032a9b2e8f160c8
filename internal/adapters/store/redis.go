package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	indexKey       = "rooms:index"
	maxTxRetries   = 32
	retryBaseDelay = 2 * time.Millisecond
)

func roomKey(id domain.RoomID) string {
	return fmt.Sprintf("rooms:%s", id)
}

// RedisStore keeps each room as one JSON value. Updates are optimistic:
// WATCH the key, apply the mutation to the decoded copy, write it in
// MULTI/EXEC and retry if another writer got there first.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

var _ core.RoomStore = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func transport(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: redis: %v", domain.ErrTransport, err)
}

func (s *RedisStore) Create(ctx context.Context, room domain.Room) error {
	b, err := json.Marshal(room)
	if err != nil {
		return err
	}
	key := roomKey(room.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return transport(err)
		}
		if n == 1 {
			return fmt.Errorf("%w: room %s already exists", domain.ErrInvalidRoom, room.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(room.CreatedAt.UnixNano()), Member: string(room.ID)})
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: room %s already exists", domain.ErrInvalidRoom, room.ID)
	}
	if err != nil && !isDomain(err) {
		return transport(err)
	}
	return err
}

func (s *RedisStore) Get(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	val, err := s.rdb.Get(ctx, roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Room{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Room{}, transport(err)
	}
	var r domain.Room
	if err := json.Unmarshal(val, &r); err != nil {
		return domain.Room{}, err
	}
	return r, nil
}

func (s *RedisStore) List(ctx context.Context) ([]domain.Room, error) {
	ids, err := s.rdb.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, transport(err)
	}
	if len(ids) == 0 {
		return []domain.Room{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = roomKey(domain.RoomID(id))
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, transport(err)
	}

	res := make([]domain.Room, 0, len(ids))
	for _, val := range vals {
		b, ok := val.(string)
		if !ok {
			continue
		}
		var r domain.Room
		if err := json.Unmarshal([]byte(b), &r); err != nil {
			log.Warn().Err(err).Str("module", "store.redis").Msg("skipping undecodable room")
			continue
		}
		res = append(res, r)
	}
	return res, nil
}

func (s *RedisStore) Update(ctx context.Context, id domain.RoomID, fn core.UpdateFunc) (domain.Room, error) {
	key := roomKey(id)
	for attempt := range maxTxRetries {
		var out domain.Room
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			val, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return domain.ErrNotFound
			}
			if err != nil {
				return transport(err)
			}
			var cur domain.Room
			if err := json.Unmarshal(val, &cur); err != nil {
				return err
			}

			next := cur.Clone()
			changed, err := fn(&next)
			if err != nil {
				return err
			}
			if !changed {
				out = cur
				return nil
			}
			next.ID = cur.ID
			next.Version = cur.Version + 1
			next.UpdatedAt = s.now().UTC()
			b, err := json.Marshal(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, b, 0)
				return nil
			})
			if err == nil {
				out = next
			}
			return err
		}, key)

		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, redis.TxFailedErr):
			log.Debug().Str("module", "store.redis").Str("room", string(id)).Int("attempt", attempt).Msg("update conflict, retrying")
			select {
			case <-ctx.Done():
				return domain.Room{}, transport(ctx.Err())
			case <-time.After(retryBaseDelay * time.Duration(attempt+1)):
			}
		case isDomain(err):
			return domain.Room{}, err
		default:
			return domain.Room{}, transport(err)
		}
	}
	return domain.Room{}, fmt.Errorf("%w: update of room %s kept conflicting", domain.ErrTransport, id)
}

func isDomain(err error) bool {
	return domain.Code(err) != domain.CodeInternal
}

package core

import (
	"context"

	"github.com/dkeye/devrooms/internal/domain"
)

// UpdateFunc mutates a room in place. Returning changed=false skips the
// write; returning an error aborts it. Stores may call it more than once
// when an optimistic commit has to be retried.
type UpdateFunc func(r *domain.Room) (changed bool, err error)

// RoomStore persists rooms. Update is the only mutation path after Create
// and is serialized per room id; different rooms proceed in parallel.
type RoomStore interface {
	Create(ctx context.Context, room domain.Room) error
	Get(ctx context.Context, id domain.RoomID) (domain.Room, error)
	List(ctx context.Context) ([]domain.Room, error)
	Update(ctx context.Context, id domain.RoomID, fn UpdateFunc) (domain.Room, error)
}

// Notifier fans committed room snapshots out to watchers of that room.
// Publish never blocks on a slow watcher.
type Notifier interface {
	Publish(ctx context.Context, room domain.Room)
	Subscribe(ctx context.Context, id domain.RoomID) (<-chan domain.Room, func())
}

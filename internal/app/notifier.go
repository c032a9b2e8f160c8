package app

import (
	"context"
	"sync"

	"github.com/dkeye/devrooms/internal/domain"
)

const watcherBuffer = 8

type watcher struct {
	ch   chan domain.Room
	once sync.Once
}

// LocalNotifier fans snapshots out inside one process.
type LocalNotifier struct {
	mu       sync.Mutex
	watchers map[domain.RoomID]map[*watcher]struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{watchers: make(map[domain.RoomID]map[*watcher]struct{})}
}

// Publish delivers room to every watcher. A full watcher loses its oldest
// pending snapshot; the newest one always gets queued.
func (n *LocalNotifier) Publish(_ context.Context, room domain.Room) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for w := range n.watchers[room.ID] {
		Offer(w.ch, room.Clone())
	}
}

func (n *LocalNotifier) Subscribe(ctx context.Context, id domain.RoomID) (<-chan domain.Room, func()) {
	w := &watcher{ch: make(chan domain.Room, watcherBuffer)}

	n.mu.Lock()
	set, ok := n.watchers[id]
	if !ok {
		set = make(map[*watcher]struct{})
		n.watchers[id] = set
	}
	set[w] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		w.once.Do(func() {
			n.mu.Lock()
			delete(n.watchers[id], w)
			if len(n.watchers[id]) == 0 {
				delete(n.watchers, id)
			}
			close(w.ch)
			n.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return w.ch, func() {
		stop()
		cancel()
	}
}

// Offer queues v on ch without blocking, evicting the oldest queued value
// when ch is full. Only one goroutine may offer to a given channel.
func Offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

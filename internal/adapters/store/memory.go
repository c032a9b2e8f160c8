package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

type memoryEntry struct {
	mu   sync.Mutex
	room domain.Room
}

// MemoryStore keeps rooms in process. The map lock only guards the index;
// each room carries its own lock so updates on different rooms never
// contend.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*memoryEntry
	order []domain.RoomID

	now func() time.Time
}

var _ core.RoomStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[domain.RoomID]*memoryEntry),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return fmt.Errorf("%w: room %s already exists", domain.ErrInvalidRoom, room.ID)
	}
	s.rooms[room.ID] = &memoryEntry{room: room.Clone()}
	s.order = append(s.order, room.ID)
	log.Debug().Str("module", "store.memory").Str("room", string(room.ID)).Msg("created")
	return nil
}

func (s *MemoryStore) entry(id domain.RoomID) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rooms[id]
	return e, ok
}

func (s *MemoryStore) Get(_ context.Context, id domain.RoomID) (domain.Room, error) {
	e, ok := s.entry(id)
	if !ok {
		return domain.Room{}, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.Room, error) {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.rooms[id])
	}
	s.mu.RUnlock()

	out := make([]domain.Room, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.room.Clone())
		e.mu.Unlock()
	}
	return out, nil
}

// Update runs fn on a private copy under the room lock and commits the copy
// only when fn reports a change without error.
func (s *MemoryStore) Update(ctx context.Context, id domain.RoomID, fn core.UpdateFunc) (domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return domain.Room{}, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	e, ok := s.entry(id)
	if !ok {
		return domain.Room{}, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.room.Clone()
	changed, err := fn(&next)
	if err != nil {
		return domain.Room{}, err
	}
	if !changed {
		return e.room.Clone(), nil
	}
	next.ID = e.room.ID
	next.Version = e.room.Version + 1
	next.UpdatedAt = s.now().UTC()
	e.room = next
	return next.Clone(), nil
}

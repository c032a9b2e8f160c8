package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/dkeye/devrooms/internal/domain"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// NewRoomID returns a lexically sortable room id, so ids order by creation.
func NewRoomID() domain.RoomID {
	return domain.RoomID(NewULID())
}

func NewSessionHandle() domain.SessionHandle {
	return domain.SessionHandle("sess-" + uuid.NewString())
}

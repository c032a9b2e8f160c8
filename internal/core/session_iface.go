package core

//go:generate mockgen -source=session_iface.go -destination=mocks/mock_session.go -package=mocks

import (
	"context"

	"github.com/dkeye/devrooms/internal/domain"
)

type EventType string

const (
	// EventSnapshot is the first event of every connection.
	EventSnapshot          EventType = "session_state"
	EventParticipantJoined EventType = "participant.joined"
	EventParticipantLeft   EventType = "participant.left"
	EventSessionEnded      EventType = "session.ended"
)

// Event is a presence notification from the RTC provider. Seq increases
// monotonically within one session.
type Event struct {
	Type         EventType
	User         domain.UserID
	Participants []domain.UserID
	Seq          uint64
}

// Connection is one client's live attachment to an RTC session. Events is
// closed when the connection is gone for any reason.
type Connection interface {
	Events() <-chan Event
	Leave(ctx context.Context) error
}

// Connector opens RTC connections (client side of the provider).
type Connector interface {
	CreateOrJoin(ctx context.Context, room domain.RoomID, session domain.SessionHandle, user domain.UserID) (Connection, error)
}

// SessionEnder ends a session for every connected participant.
type SessionEnder interface {
	EndSession(ctx context.Context, session domain.SessionHandle) error
}

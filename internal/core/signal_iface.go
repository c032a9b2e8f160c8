package core

import (
	"time"

	"github.com/dkeye/devrooms/internal/domain"
)

// Frame is a raw encoded signal message.
type Frame []byte

// SignalConnection abstracts the signalling transport of one peer.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Signal message types exchanged with the hub. Presence types reuse the
// EventType values.
const (
	SignalPing      = "ping"
	SignalPong      = "pong"
	SignalLeave     = "leave"
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
	SignalError     = "error"
)

// SignalMessage is the JSON envelope on the hub socket.
type SignalMessage struct {
	Type          string          `json:"type"`
	Seq           uint64          `json:"seq,omitempty"`
	User          domain.UserID   `json:"user,omitempty"`
	Participants  []domain.UserID `json:"participants,omitempty"`
	SDP           string          `json:"sdp,omitempty"`
	Candidate     string          `json:"candidate,omitempty"`
	SDPMid        string          `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16          `json:"sdpMLineIndex,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// SessionToken admits one user to one RTC session until ExpiresAt.
type SessionToken struct {
	Token         string               `json:"token"`
	SessionHandle domain.SessionHandle `json:"sessionHandle"`
	ExpiresAt     time.Time            `json:"expiresAt"`
}

type TokenIssuer interface {
	Issue(room domain.RoomID, session domain.SessionHandle, user domain.UserID) (SessionToken, error)
}

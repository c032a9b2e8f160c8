package domain

import "errors"

var (
	ErrNotFound          = errors.New("room not found")
	ErrRoomFull          = errors.New("room is full")
	ErrRoomClosed        = errors.New("room is closed")
	ErrForbidden         = errors.New("forbidden: not room admin")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidRoom       = errors.New("invalid room")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrTransport         = errors.New("transport failure")
	ErrCancelled         = errors.New("acquisition cancelled")
)

// Wire codes shared by the HTTP surface and the client.
const (
	CodeRoomFull          = "RoomFull"
	CodeRoomClosed        = "RoomClosed"
	CodeForbidden         = "Forbidden"
	CodeInvalidTransition = "InvalidTransition"
	CodeNotFound          = "NotFound"
	CodeInvalidRoom       = "InvalidRoom"
	CodeUnauthenticated   = "Unauthenticated"
	CodeTransportFailure  = "TransportFailure"
	CodeInternal          = "Internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrRoomFull, CodeRoomFull},
	{ErrRoomClosed, CodeRoomClosed},
	{ErrForbidden, CodeForbidden},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidRoom, CodeInvalidRoom},
	{ErrUnauthenticated, CodeUnauthenticated},
	{ErrTransport, CodeTransportFailure},
}

// Code maps err onto its wire code. Unknown errors are Internal.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// FromCode is the inverse of Code. Unknown codes map to ErrTransport so a
// client never mistakes a server fault for a definitive rejection.
func FromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return ErrTransport
}

// IsRejection reports whether err is a definitive answer from the registry,
// meaning the request was not applied.
func IsRejection(err error) bool {
	return errors.Is(err, ErrRoomFull) ||
		errors.Is(err, ErrRoomClosed) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidRoom) ||
		errors.Is(err, ErrUnauthenticated)
}

// Package domain contains entities and the pure rules that mutate them.
// Nothing here touches storage or transport.
package domain

import (
	"strings"

	"github.com/google/uuid"
)

const MaxUserIDLen = 64

type UserID string

// ParseUserID trims and validates an id coming from the edge.
func ParseUserID(raw string) (UserID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", ErrUnauthenticated
	}
	if len(id) > MaxUserIDLen {
		return "", ErrUnauthenticated
	}
	return UserID(id), nil
}

// NewGuestID returns a fresh id for callers without upstream identity.
func NewGuestID() UserID {
	return UserID("guest-" + uuid.NewString())
}

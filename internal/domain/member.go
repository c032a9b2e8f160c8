package domain

import (
	"maps"
	"slices"
)

// Roster is a set of users with a stable, sorted rendering.
type Roster map[UserID]struct{}

func NewRoster(users ...UserID) Roster {
	r := make(Roster, len(users))
	for _, u := range users {
		r[u] = struct{}{}
	}
	return r
}

func (r Roster) Has(u UserID) bool {
	_, ok := r[u]
	return ok
}

func (r Roster) Sorted() []UserID {
	return slices.Sorted(maps.Keys(r))
}

package domain

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

type (
	RoomID        string
	SessionHandle string
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusClosed     Status = "closed"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusOpen, StatusInProgress, StatusClosed:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidRoom, s)
}

type SkillLevel string

const (
	SkillBeginner     SkillLevel = "beginner"
	SkillIntermediate SkillLevel = "intermediate"
	SkillAdvanced     SkillLevel = "advanced"
)

// ParseSkillLevel accepts any casing; an empty value means beginner.
func ParseSkillLevel(s string) (SkillLevel, error) {
	switch lvl := SkillLevel(strings.ToLower(strings.TrimSpace(s))); lvl {
	case "":
		return SkillBeginner, nil
	case SkillBeginner, SkillIntermediate, SkillAdvanced:
		return lvl, nil
	}
	return "", fmt.Errorf("%w: unknown skill level %q", ErrInvalidRoom, s)
}

type Room struct {
	ID              RoomID        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	Tags            []string      `json:"tags"`
	TechStack       []string      `json:"techStack"`
	SkillLevel      SkillLevel    `json:"skillLevel"`
	GithubLink      string        `json:"githubLink,omitempty"`
	MaxParticipants int           `json:"maxParticipants"`
	Members         []UserID      `json:"members"`
	Admin           UserID        `json:"admin"`
	Status          Status        `json:"status"`
	SessionHandle   SessionHandle `json:"sessionHandle,omitempty"`
	Version         int64         `json:"version"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func (r *Room) HasMember(u UserID) bool {
	return slices.Contains(r.Members, u)
}

func (r *Room) IsFull() bool {
	return len(r.Members) >= r.MaxParticipants
}

// Clone returns a copy that shares no slices with r.
func (r Room) Clone() Room {
	r.Tags = slices.Clone(r.Tags)
	r.TechStack = slices.Clone(r.TechStack)
	r.Members = slices.Clone(r.Members)
	return r
}

// Admit adds u as a member. Joining twice is not an error and reports no
// change. Status is left alone; in-progress is set by the admin.
func (r *Room) Admit(u UserID) (bool, error) {
	if r.Status == StatusClosed {
		return false, ErrRoomClosed
	}
	if r.HasMember(u) {
		return false, nil
	}
	if r.IsFull() {
		return false, ErrRoomFull
	}
	r.Members = append(r.Members, u)
	return true, nil
}

// Evict removes u if present. It ignores room status.
func (r *Room) Evict(u UserID) bool {
	i := slices.Index(r.Members, u)
	if i < 0 {
		return false
	}
	r.Members = slices.Delete(r.Members, i, i+1)
	return true
}

// RequireAdmin is the single admin check for privileged room operations.
func (r *Room) RequireAdmin(actor UserID) error {
	if actor == "" || actor != r.Admin {
		return ErrForbidden
	}
	return nil
}

// RequireMember gates operations reserved to current members.
func (r *Room) RequireMember(actor UserID) error {
	if actor == "" || !r.HasMember(actor) {
		return ErrForbidden
	}
	return nil
}

// ChangeStatus applies an admin-requested transition. closed is terminal.
func (r *Room) ChangeStatus(actor UserID, to Status) (bool, error) {
	if err := r.RequireAdmin(actor); err != nil {
		return false, err
	}
	if r.Status == StatusClosed {
		return false, ErrInvalidTransition
	}
	if _, err := ParseStatus(string(to)); err != nil {
		return false, err
	}
	if r.Status == to {
		return false, nil
	}
	r.Status = to
	return true, nil
}

// BindSession sets the session handle once. newHandle is only called when
// no handle exists yet.
func (r *Room) BindSession(newHandle func() SessionHandle) bool {
	if r.SessionHandle != "" {
		return false
	}
	r.SessionHandle = newHandle()
	return true
}

// RoomSpec is the creation request for a room.
type RoomSpec struct {
	Title           string
	Description     string
	Tags            []string
	TechStack       []string
	SkillLevel      string
	GithubLink      string
	MaxParticipants int
}

// Limits bound maxParticipants at creation.
type Limits struct {
	MinParticipants int
	MaxParticipants int
}

var DefaultLimits = Limits{MinParticipants: 2, MaxParticipants: 20}

// NewRoom validates spec and builds an open room administered by admin.
func NewRoom(id RoomID, admin UserID, spec RoomSpec, limits Limits, now time.Time) (Room, error) {
	title := strings.TrimSpace(spec.Title)
	if title == "" {
		return Room{}, fmt.Errorf("%w: title required", ErrInvalidRoom)
	}
	stack := cleanList(spec.TechStack, false)
	if len(stack) == 0 {
		return Room{}, fmt.Errorf("%w: tech stack required", ErrInvalidRoom)
	}
	lo := max(limits.MinParticipants, 2)
	if spec.MaxParticipants < lo || spec.MaxParticipants > limits.MaxParticipants {
		return Room{}, fmt.Errorf("%w: maxParticipants must be within [%d, %d]",
			ErrInvalidRoom, lo, limits.MaxParticipants)
	}
	skill, err := ParseSkillLevel(spec.SkillLevel)
	if err != nil {
		return Room{}, err
	}
	link := strings.TrimSpace(spec.GithubLink)
	if link != "" {
		if u, err := url.ParseRequestURI(link); err != nil || u.Host == "" {
			return Room{}, fmt.Errorf("%w: bad githubLink", ErrInvalidRoom)
		}
	}
	if admin == "" {
		return Room{}, ErrUnauthenticated
	}

	return Room{
		ID:              id,
		Title:           title,
		Description:     strings.TrimSpace(spec.Description),
		Tags:            cleanList(splitTags(spec.Tags), true),
		TechStack:       stack,
		SkillLevel:      skill,
		GithubLink:      link,
		MaxParticipants: spec.MaxParticipants,
		Members:         []UserID{},
		Admin:           admin,
		Status:          StatusOpen,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// splitTags expands comma-joined entries such as "go, tdd".
func splitTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.Split(s, ",")...)
	}
	return out
}

func cleanList(in []string, dedupe bool) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if dedupe && slices.ContainsFunc(out, func(o string) bool { return strings.EqualFold(o, s) }) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Filter narrows a room listing.
type Filter struct {
	Query string
	Tags  []string
	// Active keeps rooms with at least one member.
	Active bool
}

// Match reports whether r passes f. Query matches the title or any tag,
// Tags keeps rooms carrying at least one of them.
func (f Filter) Match(r Room) bool {
	if f.Active && len(r.Members) == 0 {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		hit := strings.Contains(strings.ToLower(r.Title), q)
		for _, t := range r.Tags {
			if hit {
				break
			}
			hit = strings.Contains(strings.ToLower(t), q)
		}
		if !hit {
			return false
		}
	}
	wanted := cleanList(splitTags(f.Tags), true)
	if len(wanted) == 0 {
		return true
	}
	for _, want := range wanted {
		for _, t := range r.Tags {
			if strings.EqualFold(t, want) {
				return true
			}
		}
	}
	return false
}

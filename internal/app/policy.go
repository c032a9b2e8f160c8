package app

import "github.com/dkeye/devrooms/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what the signal hub does with a peer whose send queue is
// full.
type Policy interface {
	OnBackPressure(session domain.SessionHandle, user domain.UserID, critical bool) BackpressureAction
}

// SimplePolicy drops presence updates for slow peers and kicks them when a
// critical message (session end) cannot be queued.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ domain.SessionHandle, _ domain.UserID, critical bool) BackpressureAction {
	if critical {
		return KickMember
	}
	return DropFrame
}

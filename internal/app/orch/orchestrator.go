package orch

import (
	"context"
	"time"

	"github.com/dkeye/devrooms/internal/app"
	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

const defaultTimeout = 10 * time.Second

// Orchestrator is the single entry point of the HTTP and signal adapters.
// It composes the registry components with the RTC provider.
type Orchestrator struct {
	Registry  *app.Registry
	Admission *app.Admission
	Binder    *app.Binder
	Sessions  core.SessionEnder
	Tokens    core.TokenIssuer

	// Timeout bounds operations that must not be cut short by the caller:
	// termination and disconnect cleanup.
	Timeout time.Duration
}

func (o *Orchestrator) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultTimeout
	}
	return o.Timeout
}

// detached returns a context that survives cancellation of ctx.
func (o *Orchestrator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.timeout())
}

func (o *Orchestrator) Join(ctx context.Context, id domain.RoomID, user domain.UserID) (domain.Room, error) {
	return o.Admission.Join(ctx, id, user)
}

func (o *Orchestrator) Leave(ctx context.Context, id domain.RoomID, user domain.UserID) (domain.Room, error) {
	return o.Admission.Leave(ctx, id, user)
}

func (o *Orchestrator) Bind(ctx context.Context, id domain.RoomID, user domain.UserID) (domain.SessionHandle, error) {
	return o.Binder.Bind(ctx, id, user)
}

// IssueToken binds the room's session if needed and signs a token for the
// caller. Only members of a room that is not closed get one.
func (o *Orchestrator) IssueToken(ctx context.Context, id domain.RoomID, user domain.UserID) (core.SessionToken, error) {
	session, err := o.Binder.Bind(ctx, id, user)
	if err != nil {
		return core.SessionToken{}, err
	}
	tok, err := o.Tokens.Issue(id, session, user)
	if err != nil {
		return core.SessionToken{}, err
	}
	log.Debug().Str("module", "orch").Str("room", string(id)).Str("user", string(user)).
		Str("session", string(session)).Msg("token issued")
	return tok, nil
}

package model

import (
	"context"
	"errors"
	"fmt"
)

// ActorContext identifies the authenticated caller for the lifetime of a
// request. It is sourced from the external authentication system; the
// engine relies on it only for role matching and audit attribution. It is
// immutable after construction and safe for concurrent reads.
type ActorContext struct {
	UserID        string
	Name          string
	Role          Role
	TenantID      string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
}

// SystemActor is the identity the escalation monitor acts under.
var SystemActor = ActorContext{
	UserID:   "system",
	Name:     "Escalation Monitor",
	Role:     RoleSystem,
	TenantID: "",
}

// Validate checks that all mandatory fields are present and the role is
// known.
func (a *ActorContext) Validate() error {
	var errs []error
	if a.UserID == "" {
		errs = append(errs, fmt.Errorf("UserID is required"))
	}
	if a.TenantID == "" {
		errs = append(errs, fmt.Errorf("TenantID is required"))
	}
	if !a.Role.Valid() {
		errs = append(errs, fmt.Errorf("unknown role %q", a.Role))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Claim returns the value of the given claim key, or nil if not present.
func (a *ActorContext) Claim(key string) any {
	if a.Claims == nil {
		return nil
	}
	return a.Claims[key]
}

type actorKey struct{}

// WithActor attaches an ActorContext to the given context.
func WithActor(ctx context.Context, actor *ActorContext) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom extracts the ActorContext from the context, or returns nil if
// not present.
func ActorFrom(ctx context.Context) *ActorContext {
	actor, _ := ctx.Value(actorKey{}).(*ActorContext)
	return actor
}

// MustActor extracts the ActorContext from the context, panicking if it is
// not present. This is safe to call in handlers that are guaranteed to run
// behind the authentication middleware.
func MustActor(ctx context.Context) *ActorContext {
	actor := ActorFrom(ctx)
	if actor == nil {
		panic("model: ActorContext not found in context")
	}
	return actor
}

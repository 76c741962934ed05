// Package actor identifies the user or system performing a stock or dispensing
// action so it can be recorded on dispense records and movement entries.
package actor

import (
	"context"
	"fmt"
)

// SystemID is the actor id used for scheduled and system-initiated work.
const SystemID = "00000000-0000-0000-0000-000000000000"

// Actor represents the entity performing an action.
type Actor struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	RoleName string `json:"role_name,omitempty"`
}

// String returns a representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	if a.Name == "" {
		return a.ID
	}
	return fmt.Sprintf("%s (%s)", a.Name, a.ID)
}

// IsSystem reports whether the actor represents the system.
func (a *Actor) IsSystem() bool {
	return a == nil || a.ID == SystemID
}

type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context, or nil.
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, _ := ctx.Value(actorContextKey).(*Actor)
	return a
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

// IDFromContext returns the acting user id, falling back to SystemID.
func IDFromContext(ctx context.Context) string {
	if a := FromContext(ctx); a != nil && a.ID != "" {
		return a.ID
	}
	return SystemID
}

// SystemActor returns an Actor representing the system itself.
func SystemActor() *Actor {
	return &Actor{ID: SystemID, Name: "System"}
}

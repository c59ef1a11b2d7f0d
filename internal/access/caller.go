package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RoleAdmin is the only role this subsystem distinguishes.
const RoleAdmin = "admin"

// Caller is the verified identity behind a request plus its network context.
type Caller struct {
	UserID    string
	IP        string
	UserAgent string
	RequestID string
}

// Authenticated reports whether the caller resolved to an identity.
func (c Caller) Authenticated() bool {
	return strings.TrimSpace(c.UserID) != ""
}

// RoleStore is the authoritative role source. It is queried on every call.
type RoleStore interface {
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// Authorizer re-derives admin status per call instead of trusting token claims.
type Authorizer struct {
	roles RoleStore
}

// NewAuthorizer wraps the authoritative role store.
func NewAuthorizer(roles RoleStore) *Authorizer {
	return &Authorizer{roles: roles}
}

// RequireAdmin returns nil only when the role store confirms the admin role now.
// A lookup error denies with an internal error rather than ErrForbidden.
func (a *Authorizer) RequireAdmin(ctx context.Context, caller Caller) error {
	if !caller.Authenticated() {
		return ErrUnauthenticated
	}
	if a == nil || a.roles == nil {
		return fmt.Errorf("role store unavailable")
	}
	ok, err := a.roles.HasRole(ctx, caller.UserID, RoleAdmin)
	if err != nil {
		return fmt.Errorf("role lookup: %w", err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// ValidUserID reports whether id is a syntactically valid user identifier (UUID).
func ValidUserID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

// internal/identity/principal.go
package identity

import (
	"context"

	"github.com/google/uuid"
)

// Principal is the acting party of a request.
type Principal struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

// System is the principal used by scheduled jobs.
var System = Principal{UserID: uuid.Nil, Role: RoleAdmin}

// IsStaff reports whether the principal has staff privileges.
func (p Principal) IsStaff() bool {
	return p.Role.IsStaff()
}

// Owns reports whether userID is the principal's own account.
func (p Principal) Owns(userID uuid.UUID) bool {
	return p.UserID != uuid.Nil && p.UserID == userID
}

// CanAccess reports whether the principal may read or act on userID's resources.
func (p Principal) CanAccess(userID uuid.UUID) bool {
	return p.IsStaff() || p.Owns(userID)
}

type principalKey struct{}

// WithPrincipal stores p in ctx. Only transport code should call this.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

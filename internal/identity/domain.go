// internal/identity/domain.go
package identity

import (
	"time"

	"github.com/google/uuid"
)

// Role is the privilege level of a user.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleLibrarian Role = "LIBRARIAN"
	RoleStudent   Role = "STUDENT"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleLibrarian, RoleStudent:
		return true
	}
	return false
}

// IsStaff reports whether r carries staff privileges.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleLibrarian
}

// User is a library account.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Version   int       `json:"version"`
}

// Active reports whether the account may take part in circulation.
func (u *User) Active() bool {
	return u.Status == StatusActive
}

const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// Credential holds a user's login secret.
type Credential struct {
	UserID       uuid.UUID `json:"user_id"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
}

// internal/identity/service.go
package identity

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists users and their credentials.
type Repository interface {
	// CreateUser stores a new user. Fails with apperr.ErrDuplicateUser when the email is taken.
	CreateUser(ctx context.Context, u *User, c *Credential) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, *Credential, error)
}

// Service defines the interface for the identity service.
type Service interface {
	RegisterUser(ctx context.Context, email, name, password string, role Role) (*User, error)
	Authenticate(ctx context.Context, email, password string) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
}

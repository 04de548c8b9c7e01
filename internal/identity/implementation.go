// internal/identity/implementation.go
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"lmscirc/internal/apperr"
	"lmscirc/internal/clock"
)

// service implements the Service interface.
type service struct {
	repo        Repository
	clock       clock.Clock
	rateLimiter *rate.Limiter
	log         *slog.Logger
}

// Option configures the identity service.
type Option func(*service)

// WithLoginLimit replaces the default login limiter.
func WithLoginLimit(l *rate.Limiter) Option {
	return func(s *service) { s.rateLimiter = l }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *service) { s.log = l }
}

// NewService creates a new identity service instance.
func NewService(repo Repository, c clock.Clock, opts ...Option) Service {
	s := &service{
		repo:        repo,
		clock:       c,
		rateLimiter: rate.NewLimiter(rate.Limit(5), 20), // 5 logins per second, bursts of 20
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterUser creates a new active account.
func (s *service) RegisterUser(ctx context.Context, email, name, password string, role Role) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(name) == "" {
		return nil, apperr.ErrInvalidArgument.With("identity.RegisterUser", "email and name are required")
	}
	if len(password) < 8 {
		return nil, apperr.ErrInvalidArgument.With("identity.RegisterUser", "password must be at least 8 characters")
	}
	if !role.Valid() {
		return nil, apperr.ErrInvalidArgument.With("identity.RegisterUser", "unknown role %q", role)
	}

	passwordHash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:        uuid.New(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		Role:      role,
		Status:    StatusActive,
		CreatedAt: s.clock.Now(),
		Version:   1,
	}
	credential := &Credential{
		UserID:       user.ID,
		PasswordHash: passwordHash,
		Salt:         salt,
	}

	if err := s.repo.CreateUser(ctx, user, credential); err != nil {
		return nil, fmt.Errorf("failed to store user: %w", err)
	}

	s.log.InfoContext(ctx, "user registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// Authenticate verifies a user's credentials and returns the user if successful.
func (s *service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	if !s.rateLimiter.Allow() {
		return nil, apperr.ErrRateLimited.With("identity.Authenticate", "")
	}

	user, credential, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperr.ErrUserNotFound) {
			return nil, apperr.ErrUnauthenticated.With("identity.Authenticate", "invalid credentials")
		}
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, credential.Salt, credential.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		s.log.WarnContext(ctx, "failed login", "user_id", user.ID)
		return nil, apperr.ErrUnauthenticated.With("identity.Authenticate", "invalid credentials")
	}
	if !user.Active() {
		return nil, apperr.ErrForbidden.With("identity.Authenticate", "account is %s", user.Status)
	}

	return user, nil
}

// GetUser retrieves a user by their ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

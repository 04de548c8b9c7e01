package memstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lmscirc/internal/apperr"
	"lmscirc/internal/identity"
)

func TestUserRepository(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := &identity.User{ID: uuid.New(), Email: "ada@example.org", Name: "Ada", Role: identity.RoleStudent, Status: identity.StatusActive, Version: 1}
	c := &identity.Credential{UserID: u.ID, PasswordHash: "h", Salt: "s"}

	require.NoError(t, s.CreateUser(ctx, u, c))

	dup := *u
	dup.ID = uuid.New()
	dup.Email = "ADA@example.org"
	assert.ErrorIs(t, s.CreateUser(ctx, &dup, c), apperr.ErrDuplicateUser)

	got, cred, err := s.GetUserByEmail(ctx, "ada@example.org")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "h", cred.PasswordHash)

	_, err = s.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

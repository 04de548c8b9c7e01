package postgres

import (
	"context"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"lmscirc/internal/apperr"
	"lmscirc/internal/identity"
)

var _ identity.Repository = (*Store)(nil)

func (s *Store) CreateUser(ctx context.Context, u *identity.User, c *identity.Credential) error {
	row := userRow{
		ID:           u.ID,
		Email:        strings.ToLower(u.Email),
		Name:         u.Name,
		Role:         string(u.Role),
		Status:       u.Status,
		PasswordHash: c.PasswordHash,
		Salt:         c.Salt,
		CreatedAt:    u.CreatedAt,
		Version:      u.Version,
	}
	if _, err := exec(ctx, s.db, dialect.Insert(tableUsers).Rows(row).Prepared(true)); err != nil {
		return mapError("postgres.CreateUser", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	var row userRow
	if err := get(ctx, s.db, &row, dialect.From(tableUsers).Select(userColumns...).Where(goqu.Ex{"id": id})); err != nil {
		return nil, notFound(err, apperr.ErrUserNotFound, "postgres.GetUser", id)
	}
	return row.user(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*identity.User, *identity.Credential, error) {
	var row userRow
	err := get(ctx, s.db, &row, dialect.From(tableUsers).
		Select(userColumns...).
		Where(goqu.Ex{"email": strings.ToLower(strings.TrimSpace(email))}))
	if err != nil {
		return nil, nil, notFound(err, apperr.ErrUserNotFound, "postgres.GetUserByEmail", email)
	}
	return row.user(), &identity.Credential{UserID: row.ID, PasswordHash: row.PasswordHash, Salt: row.Salt}, nil
}

package memstore

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"lmscirc/internal/apperr"
	"lmscirc/internal/identity"
)

var _ identity.Repository = (*Store)(nil)

func (s *Store) CreateUser(_ context.Context, u *identity.User, c *identity.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return apperr.ErrDuplicateUser.With("memstore.CreateUser", "id %s", u.ID)
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return apperr.ErrDuplicateUser.With("memstore.CreateUser", "%s", u.Email)
		}
	}
	s.users[u.ID] = *u
	if c != nil {
		s.creds[u.ID] = *c
	}
	return nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.ErrUserNotFound.With("memstore.GetUser", "%s", id)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*identity.User, *identity.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			c := s.creds[id]
			return &u, &c, nil
		}
	}
	return nil, nil, apperr.ErrUserNotFound.With("memstore.GetUserByEmail", "%s", email)
}

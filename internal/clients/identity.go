package clients

import (
	"context"
	"net/http"
	"time"

	"lmscirc/internal/identity"
)

// Session is the result of a successful login.
type Session struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *identity.User `json:"user"`
}

// Login authenticates and, on success, uses the new token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	in := map[string]string{"email": email, "password": password}
	var s Session
	if err := c.do(ctx, http.MethodPost, "/auth/login", in, &s); err != nil {
		return nil, err
	}
	c.token = s.Token
	return &s, nil
}

func (c *Client) Register(ctx context.Context, email, name, password string, role identity.Role) (*identity.User, error) {
	in := map[string]string{"email": email, "name": name, "password": password, "role": string(role)}
	var u identity.User
	if err := c.do(ctx, http.MethodPost, "/users", in, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Package clients calls the circulation HTTP API. Every call passes through a
// circuit breaker that opens after repeated transport or server failures.
package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"

	"lmscirc/internal/apperr"
	"lmscirc/internal/httpx"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("circulation api unavailable")

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sends token as the bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the logger for breaker state changes.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithBreaker overrides the breaker trip threshold and open interval.
func WithBreaker(consecutiveFailures uint32, openFor time.Duration) Option {
	return func(c *Client) {
		c.tripAfter = consecutiveFailures
		c.openFor = openFor
	}
}

// Client is an HTTP client for the /api/v1 surface.
type Client struct {
	baseURL   string
	token     string
	http      *http.Client
	log       *slog.Logger
	tripAfter uint32
	openFor   time.Duration
	cb        *gobreaker.CircuitBreaker
}

// New creates a client for the API rooted at baseURL, e.g. http://localhost:8080/api/v1.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: 10 * time.Second},
		log:       slog.Default(),
		tripAfter: 5,
		openFor:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "circulation-api",
		MaxRequests: 1,
		Timeout:     c.openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		// Rejections carry an API error and say nothing about the server's health.
		IsSuccessful: func(err error) bool {
			var ae *apperr.Error
			return err == nil || (errors.As(err, &ae) && ae.Kind != apperr.Internal)
		},
	})
	return c
}

// Token returns the bearer credential in use.
func (c *Client) Token() string {
	return c.token
}

// do sends in as JSON and decodes the response into out. Error bodies come
// back as *apperr.Error so callers can match them with errors.Is.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := codec.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(method, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := codec.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(method, path string, resp *http.Response) error {
	op := method + " " + path
	var eb httpx.ErrorBody
	if err := codec.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Error.Code == "" {
		return fmt.Errorf("%s: unexpected status code: %d", op, resp.StatusCode)
	}
	return &apperr.Error{
		Kind:    apperr.ParseKind(eb.Error.Kind),
		Code:    eb.Error.Code,
		Op:      op,
		Message: eb.Error.Message,
	}
}

package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"lmscirc/internal/catalog"
)

func (c *Client) AddBook(ctx context.Context, isbn, title, author string) (*catalog.Book, error) {
	in := map[string]string{"isbn": isbn, "title": title, "author": author}
	var b catalog.Book
	if err := c.do(ctx, http.MethodPost, "/books", in, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) AddCopy(ctx context.Context, bookID uuid.UUID, barcode string) (*catalog.Copy, error) {
	var cp catalog.Copy
	in := map[string]string{"barcode": barcode}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/books/%s/copies", bookID), in, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (c *Client) ListCopies(ctx context.Context, bookID uuid.UUID) ([]catalog.Copy, error) {
	var list []catalog.Copy
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/books/%s/copies", bookID), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) Availability(ctx context.Context, bookID uuid.UUID) (*catalog.Availability, error) {
	var a catalog.Availability
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/books/%s/availability", bookID), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) MarkCopy(ctx context.Context, copyID uuid.UUID, status catalog.CopyStatus) (*catalog.Copy, error) {
	var cp catalog.Copy
	in := map[string]catalog.CopyStatus{"status": status}
	if err := c.do(ctx, http.MethodPatch, "/copies/"+copyID.String(), in, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

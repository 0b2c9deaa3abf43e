package dms

import (
	"context"
	"net/http"

	"github.com/marchuk/docdeck/internal/backend"
)

// Tags lists every tag in use with its document count.
func (c *Client) Tags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	err := c.api.JSON(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   "/tags",
	}, &tags)
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// CreateTag registers a tag with an optional display color.
func (c *Client) CreateTag(ctx context.Context, name, color string) (*Tag, error) {
	if name == "" {
		return nil, backend.ValidationError("tag name is required")
	}
	var tag Tag
	err := c.api.JSON(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   "/tags",
		JSON:   map[string]string{"name": name, "color": color},
	}, &tag)
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

// DeleteTag removes a tag everywhere it is applied.
func (c *Client) DeleteTag(ctx context.Context, name string) error {
	if name == "" {
		return backend.ValidationError("tag name is required")
	}
	return c.api.JSON(ctx, backend.Request{
		Method: http.MethodDelete,
		Path:   "/tags/" + name,
	}, nil)
}

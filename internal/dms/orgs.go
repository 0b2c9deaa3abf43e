package dms

import (
	"context"
	"net/http"

	"github.com/marchuk/docdeck/internal/backend"
)

// Organization fetches the caller's organization.
func (c *Client) Organization(ctx context.Context) (*Organization, error) {
	var org Organization
	err := c.api.JSON(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   "/organization",
	}, &org)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// Members lists the organization's users.
func (c *Client) Members(ctx context.Context) ([]Member, error) {
	var members []Member
	err := c.api.JSON(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   "/organization/members",
	}, &members)
	if err != nil {
		return nil, err
	}
	return members, nil
}

// InviteMember adds a user to the organization.
func (c *Client) InviteMember(ctx context.Context, email, role string) (*Member, error) {
	if email == "" {
		return nil, backend.ValidationError("email is required")
	}
	if role == "" {
		role = "member"
	}
	var member Member
	err := c.api.JSON(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   "/organization/members",
		JSON:   map[string]string{"email": email, "role": role},
	}, &member)
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// RemoveMember removes a user from the organization.
func (c *Client) RemoveMember(ctx context.Context, id string) error {
	return c.api.JSON(ctx, backend.Request{
		Method: http.MethodDelete,
		Path:   "/organization/members/" + id,
	}, nil)
}

// ChangePassword updates the caller's password. The confirmation
// mismatch is caught client-side, before any network call.
func (c *Client) ChangePassword(ctx context.Context, current, next, confirm string) error {
	if next == "" {
		return backend.ValidationError("new password is required")
	}
	if next != confirm {
		return backend.ValidationError("password confirmation does not match")
	}
	return c.api.JSON(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   "/account/password",
		JSON: map[string]string{
			"current_password": current,
			"new_password":     next,
		},
	}, nil)
}

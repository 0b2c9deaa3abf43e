package dms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/marchuk/docdeck/internal/backend"
)

// BulkAction is a closed set of operations applied to many documents
// at once. Each variant is its own type so adding an action is a
// compile-checked change, not a new string in a switch.
type BulkAction interface {
	isBulkAction()
}

// DeleteAction removes the documents.
type DeleteAction struct{}

// TagAction adds a tag to the documents.
type TagAction struct{ Tag string }

// UntagAction removes a tag from the documents.
type UntagAction struct{ Tag string }

// MoveAction moves the documents into another project.
type MoveAction struct{ ProjectID string }

func (DeleteAction) isBulkAction() {}
func (TagAction) isBulkAction()    {}
func (UntagAction) isBulkAction()  {}
func (MoveAction) isBulkAction()   {}

// bulkConcurrency bounds parallel per-document calls.
const bulkConcurrency = 4

// Bulk applies the action to every document, fanning out per document.
// The first failure cancels the remaining calls.
func (c *Client) Bulk(ctx context.Context, ids []string, action BulkAction) error {
	if len(ids) == 0 {
		return backend.ValidationError("no documents selected")
	}
	switch a := action.(type) {
	case DeleteAction:
	case TagAction:
		if a.Tag == "" {
			return backend.ValidationError("tag name is required")
		}
	case UntagAction:
		if a.Tag == "" {
			return backend.ValidationError("tag name is required")
		}
	case MoveAction:
		if a.ProjectID == "" {
			return backend.ValidationError("target project is required")
		}
	default:
		return fmt.Errorf("unsupported bulk action %T", action)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := c.applyAction(ctx, id, action); err != nil {
				return fmt.Errorf("document %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.invalidate(ids...)
	return nil
}

func (c *Client) applyAction(ctx context.Context, id string, action BulkAction) error {
	switch a := action.(type) {
	case DeleteAction:
		if c.localOnly {
			return c.local.DeleteDocument(id)
		}
		return c.api.JSON(ctx, backend.Request{
			Method: http.MethodDelete,
			Path:   "/documents/" + id,
		}, nil)

	case TagAction:
		if c.localOnly {
			return c.retagLocal(id, a.Tag, true)
		}
		return c.api.JSON(ctx, backend.Request{
			Method: http.MethodPost,
			Path:   "/documents/" + id + "/tags",
			JSON:   map[string]string{"tag": a.Tag},
		}, nil)

	case UntagAction:
		if c.localOnly {
			return c.retagLocal(id, a.Tag, false)
		}
		return c.api.JSON(ctx, backend.Request{
			Method: http.MethodDelete,
			Path:   "/documents/" + id + "/tags/" + a.Tag,
		}, nil)

	case MoveAction:
		if c.localOnly {
			return c.local.UpdateDocumentProject(id, a.ProjectID)
		}
		return c.api.JSON(ctx, backend.Request{
			Method: http.MethodPatch,
			Path:   "/documents/" + id,
			JSON:   map[string]string{"project_id": a.ProjectID},
		}, nil)

	default:
		return fmt.Errorf("unsupported bulk action %T", action)
	}
}

func (c *Client) retagLocal(id, tag string, add bool) error {
	rec, err := c.local.GetDocument(id)
	if err != nil {
		return err
	}
	var tags []string
	if rec.Tags != "" {
		if err := json.Unmarshal([]byte(rec.Tags), &tags); err != nil {
			return fmt.Errorf("parsing tags for %s: %w", id, err)
		}
	}

	next := tags[:0]
	found := false
	for _, t := range tags {
		if t == tag {
			found = true
			if !add {
				continue
			}
		}
		next = append(next, t)
	}
	if add && !found {
		next = append(next, tag)
	}
	return c.local.UpdateDocumentTags(id, tagsJSON(next))
}

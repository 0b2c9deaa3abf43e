package dms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/marchuk/docdeck/internal/backend"
	"github.com/marchuk/docdeck/internal/pipeline"
	"github.com/marchuk/docdeck/internal/storage"
)

// Upload sends a file for processing and returns the created document.
// Uploads are never retried automatically: re-sending a multipart body
// after an ambiguous failure could duplicate the document.
func (c *Client) Upload(ctx context.Context, fileName, mimeType string, data []byte, projectID string, tags []string) (*Document, error) {
	if fileName == "" {
		return nil, backend.ValidationError("file name is required")
	}
	if len(data) == 0 {
		return nil, backend.ValidationError("file %q is empty", fileName)
	}

	if c.localOnly {
		return c.uploadLocal(fileName, mimeType, data, projectID, tags)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("writing multipart body: %w", err)
	}
	if projectID != "" {
		_ = w.WriteField("project_id", projectID)
	}
	for _, tag := range tags {
		_ = w.WriteField("tags", tag)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", w.FormDataContentType())

	var doc Document
	err = c.api.JSON(ctx, backend.Request{
		Method:    http.MethodPost,
		Path:      "/documents",
		Header:    header,
		Body:      &buf,
		SkipRetry: true,
	}, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) uploadLocal(fileName, mimeType string, data []byte, projectID string, tags []string) (*Document, error) {
	if c.local == nil {
		return nil, backend.ValidationError("local mode requires a repository")
	}

	rec := storage.Document{
		ID:        uuid.New().String(),
		Name:      fileName,
		ProjectID: projectID,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
		Tags:      tagsJSON(tags),
		Content:   data,
		State:     storage.DocQueued,
		CreatedAt: nowUTC(),
	}
	if err := c.local.SaveDocument(rec); err != nil {
		return nil, fmt.Errorf("storing document: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"document_id": rec.ID})
	if err != nil {
		return nil, err
	}
	if err := c.local.EnqueueJob(storage.Job{
		ID:      uuid.New().String(),
		Type:    pipeline.JobType,
		Payload: string(payload),
	}); err != nil {
		return nil, fmt.Errorf("queueing processing job: %w", err)
	}

	doc := docFromRecord(rec)
	return &doc, nil
}

// Documents lists documents, optionally scoped to a project. When the
// backend is unreachable and a repository is attached, the local copy
// is served instead — logged, never silent.
func (c *Client) Documents(ctx context.Context, projectID string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	if c.localOnly {
		return c.documentsLocal(projectID, limit)
	}

	q := url.Values{"limit": {fmt.Sprint(limit)}}
	if projectID != "" {
		q.Set("project_id", projectID)
	}

	var docs []Document
	err := c.api.JSON(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   "/documents?" + q.Encode(),
	}, &docs)
	if err != nil {
		if c.fallbackReads(err) {
			c.logger.Warn("backend unreachable, serving documents from local store", "error", err)
			return c.documentsLocal(projectID, limit)
		}
		return nil, err
	}
	return docs, nil
}

func (c *Client) documentsLocal(projectID string, limit int) ([]Document, error) {
	recs, err := c.local.ListDocuments(projectID, limit)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, len(recs))
	for i, rec := range recs {
		docs[i] = docFromRecord(rec)
	}
	return docs, nil
}

// GetDocument fetches a single document.
func (c *Client) GetDocument(ctx context.Context, id string) (*Document, error) {
	if c.localOnly {
		rec, err := c.local.GetDocument(id)
		if err != nil {
			return nil, err
		}
		doc := docFromRecord(rec)
		return &doc, nil
	}

	var doc Document
	err := c.api.JSON(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   "/documents/" + id,
	}, &doc)
	if err != nil {
		if c.fallbackReads(err) {
			c.logger.Warn("backend unreachable, serving document from local store", "id", id, "error", err)
			rec, lerr := c.local.GetDocument(id)
			if lerr != nil {
				return nil, err
			}
			d := docFromRecord(rec)
			return &d, nil
		}
		return nil, err
	}
	return &doc, nil
}

// RenameDocument updates the document name. The change invalidates any
// cached answers touching the document.
func (c *Client) RenameDocument(ctx context.Context, id, name string) error {
	if name == "" {
		return backend.ValidationError("document name is required")
	}

	var err error
	if c.localOnly {
		err = c.local.UpdateDocumentName(id, name)
	} else {
		err = c.api.JSON(ctx, backend.Request{
			Method: http.MethodPatch,
			Path:   "/documents/" + id,
			JSON:   map[string]string{"name": name},
		}, nil)
	}
	if err != nil {
		return err
	}
	c.invalidate(id)
	return nil
}

// DeleteDocument removes a document and evicts its cached answers.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	var err error
	if c.localOnly {
		err = c.local.DeleteDocument(id)
	} else {
		err = c.api.JSON(ctx, backend.Request{
			Method: http.MethodDelete,
			Path:   "/documents/" + id,
		}, nil)
	}
	if err != nil {
		return err
	}
	c.invalidate(id)
	return nil
}

func (c *Client) invalidate(ids ...string) {
	if c.cache == nil {
		return
	}
	if n := c.cache.InvalidateForDocuments(ids); n > 0 {
		c.logger.Debug("invalidated cached answers", "documents", ids, "entries", n)
	}
}

// Status returns the current pipeline snapshot for a document. Polling
// is caller-driven: each call fetches the latest backend task state
// and folds it into the cached step list.
func (c *Client) Status(ctx context.Context, id string) (*pipeline.Status, error) {
	if c.localOnly {
		return c.statusLocal(id)
	}

	var task pipeline.TaskState
	err := c.api.JSON(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   "/documents/" + id + "/status",
	}, &task)
	if err != nil {
		if c.fallbackReads(err) {
			c.logger.Warn("backend unreachable, serving status from local store", "id", id, "error", err)
			return c.statusLocal(id)
		}
		return nil, err
	}

	c.mu.Lock()
	status, ok := c.statuses[id]
	c.mu.Unlock()

	// Fetch document metadata before re-taking the lock so a slow
	// lookup never serializes concurrent polls for other documents.
	if !ok {
		name, mimeType := id, ""
		if doc, derr := c.GetDocument(ctx, id); derr == nil {
			name, mimeType = doc.Name, doc.MimeType
		}
		c.mu.Lock()
		if existing, raced := c.statuses[id]; raced {
			status = existing
		} else {
			status = pipeline.Plan(id, name, mimeType)
			c.statuses[id] = status
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	status.Apply(task)
	return status, nil
}

func (c *Client) statusLocal(id string) (*pipeline.Status, error) {
	if c.local == nil {
		return nil, backend.ValidationError("local mode requires a repository")
	}
	rec, err := c.local.GetDocument(id)
	if err != nil {
		return nil, err
	}
	if rec.StatusJSON == "" {
		return pipeline.Plan(rec.ID, rec.Name, rec.MimeType), nil
	}
	var status pipeline.Status
	if err := json.Unmarshal([]byte(rec.StatusJSON), &status); err != nil {
		return nil, fmt.Errorf("parsing status snapshot: %w", err)
	}
	return &status, nil
}

// RetryProcessing re-queues a document whose pipeline failed at a
// recoverable step. Processing resumes from the failed step.
func (c *Client) RetryProcessing(ctx context.Context, id string) error {
	if c.localOnly {
		rec, err := c.local.GetDocument(id)
		if err != nil {
			return err
		}
		if rec.State != storage.DocFailed {
			return backend.ValidationError("document %s is %s, nothing to retry", id, rec.State)
		}
		payload, err := json.Marshal(map[string]string{"document_id": id})
		if err != nil {
			return err
		}
		return c.local.EnqueueJob(storage.Job{
			ID:      uuid.New().String(),
			Type:    pipeline.JobType,
			Payload: string(payload),
		})
	}

	return c.api.JSON(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   "/documents/" + id + "/retry",
	}, nil)
}

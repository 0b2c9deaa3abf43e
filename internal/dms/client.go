package dms

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/marchuk/docdeck/internal/backend"
	"github.com/marchuk/docdeck/internal/pipeline"
	"github.com/marchuk/docdeck/internal/querycache"
	"github.com/marchuk/docdeck/internal/storage"
)

// Repository is the local document store used for mock mode and as a
// logged read fallback when the backend is unreachable.
type Repository interface {
	SaveDocument(storage.Document) error
	GetDocument(id string) (storage.Document, error)
	ListDocuments(projectID string, limit int) ([]storage.Document, error)
	DeleteDocument(id string) error
	UpdateDocumentTags(id, tags string) error
	UpdateDocumentProject(id, projectID string) error
	UpdateDocumentName(id, name string) error
	EnqueueJob(storage.Job) error
}

// Client is the domain API surface. In backend mode calls go over
// HTTP; in local (mock) mode they go to the Repository and the local
// pipeline runner.
type Client struct {
	api        *backend.Client
	cache      *querycache.Cache
	local      Repository
	localOnly  bool
	collection string
	logger     *slog.Logger

	// statuses keeps the last pipeline snapshot per document so
	// backend task polling folds into a stable step list.
	mu       sync.Mutex
	statuses map[string]*pipeline.Status
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCache enables query-answer caching.
func WithCache(c *querycache.Cache) ClientOption {
	return func(cl *Client) { cl.cache = c }
}

// WithRepository attaches the local store used for read fallback.
func WithRepository(r Repository) ClientOption {
	return func(cl *Client) { cl.local = r }
}

// WithLocalMode routes every call to the local repository instead of
// the backend. Requires WithRepository.
func WithLocalMode() ClientOption {
	return func(cl *Client) { cl.localOnly = true }
}

// WithCollection sets the default collection queried.
func WithCollection(name string) ClientOption {
	return func(cl *Client) { cl.collection = name }
}

// WithClientLogger replaces the default logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// NewClient builds the domain client on top of the HTTP core.
func NewClient(api *backend.Client, opts ...ClientOption) *Client {
	c := &Client{
		api:        api,
		collection: "default",
		logger:     slog.Default(),
		statuses:   make(map[string]*pipeline.Status),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collection returns the default collection name.
func (c *Client) Collection() string { return c.collection }

// fallbackReads reports whether a failed backend read may be served
// from the local repository instead.
func (c *Client) fallbackReads(err error) bool {
	return c.local != nil && backend.IsUnreachable(err)
}

func docFromRecord(rec storage.Document) Document {
	var tags []string
	if rec.Tags != "" {
		_ = json.Unmarshal([]byte(rec.Tags), &tags)
	}
	return Document{
		ID:        rec.ID,
		Name:      rec.Name,
		ProjectID: rec.ProjectID,
		Tags:      tags,
		MimeType:  rec.MimeType,
		SizeBytes: rec.SizeBytes,
		State:     rec.State,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func tagsJSON(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func nowUTC() time.Time { return time.Now().UTC() }

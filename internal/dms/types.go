// Package dms is the typed client surface for the document-management
// backend: documents, projects, tags, organizations, and query. Wire
// field names are snake_case; the structs here are the client-side
// shapes.
package dms

import "time"

// Document is a stored document as the backend reports it.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ProjectID string    `json:"project_id"`
	Tags      []string  `json:"tags"`
	MimeType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Project groups documents.
type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	DocumentCount int       `json:"document_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Tag is a label applied to documents.
type Tag struct {
	Name          string `json:"name"`
	Color         string `json:"color"`
	DocumentCount int    `json:"document_count"`
}

// Organization is the tenant owning projects and members.
type Organization struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Plan       string `json:"plan"`
	SeatsUsed  int    `json:"seats_used"`
	SeatsTotal int    `json:"seats_total"`
}

// Member is a user inside an organization.
type Member struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Source is one document passage cited by an answer.
type Source struct {
	DocumentID string  `json:"document_id"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// Answer is the backend's response to a document query.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Model   string   `json:"model"`
}

// QueryConfig tunes a query. Its canonical form is part of the cache
// key, so two calls with equal configs share cache entries.
type QueryConfig struct {
	TopK  int    `json:"top_k,omitempty"`
	Model string `json:"model,omitempty"`
}

func (c QueryConfig) asMap() map[string]any {
	m := map[string]any{}
	if c.TopK != 0 {
		m["top_k"] = c.TopK
	}
	if c.Model != "" {
		m["model"] = c.Model
	}
	return m
}

// StreamEvent is one decoded chunk of a streaming answer.
type StreamEvent struct {
	Chunk        string `json:"chunk,omitempty"`
	Done         bool   `json:"done,omitempty"`
	AnswerLength int    `json:"answer_length,omitempty"`
}

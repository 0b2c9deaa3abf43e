package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document state values.
const (
	DocQueued     = "queued"
	DocProcessing = "processing"
	DocProcessed  = "processed"
	DocFailed     = "failed"
)

// Document is a locally stored document record. In mock mode it also
// carries the file bytes so the pipeline runner can process them.
type Document struct {
	ID         string
	Name       string
	ProjectID  string
	MimeType   string
	SizeBytes  int64
	Tags       string // JSON array stored as text
	Content    []byte
	State      string // "queued", "processing", "processed", "failed"
	StatusJSON string // pipeline.Status snapshot
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Project groups documents.
type Project struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// Job is one unit of queued work for the pipeline runner.
type Job struct {
	ID          string
	Type        string
	Payload     string // JSON
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

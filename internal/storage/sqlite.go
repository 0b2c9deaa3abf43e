// Package storage is the local SQLite store: document records for
// offline/mock mode, the pipeline job queue, and persisted
// credentials.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database in dataDir and applies pending
// migrations. Pass ":memory:" for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "docdeck.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection avoids "database is locked" under the runner.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw connection for tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// --- Documents ---

func (s *Store) SaveDocument(d Document) error {
	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := now
	if !d.CreatedAt.IsZero() {
		createdAt = d.CreatedAt.UTC().Format(time.RFC3339)
	}
	state := d.State
	if state == "" {
		state = DocQueued
	}
	tags := d.Tags
	if tags == "" {
		tags = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, name, project_id, mime_type, size_bytes, tags, content, state, status_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.ProjectID, d.MimeType, d.SizeBytes, tags, d.Content, state, d.StatusJSON, createdAt, now,
	)
	return err
}

func (s *Store) GetDocument(id string) (Document, error) {
	var d Document
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, name, project_id, mime_type, size_bytes, tags, content, state, status_json, created_at, updated_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Name, &d.ProjectID, &d.MimeType, &d.SizeBytes, &d.Tags, &d.Content, &d.State, &d.StatusJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Document{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}

// ListDocuments returns documents, newest first, optionally filtered
// by project. Content blobs are not loaded.
func (s *Store) ListDocuments(projectID string, limit int) ([]Document, error) {
	query := `SELECT id, name, project_id, mime_type, size_bytes, tags, state, status_json, created_at, updated_at
		FROM documents`
	args := []any{}
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var createdAt, updatedAt string
		if err := rows.Scan(&d.ID, &d.Name, &d.ProjectID, &d.MimeType, &d.SizeBytes, &d.Tags, &d.State, &d.StatusJSON, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func (s *Store) DeleteDocument(id string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDocumentState persists the document state and its pipeline
// snapshot (pass statusJSON "" to leave the snapshot untouched).
func (s *Store) UpdateDocumentState(id, state, statusJSON string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var (
		res sql.Result
		err error
	)
	if statusJSON == "" {
		res, err = s.db.Exec(`UPDATE documents SET state = ?, updated_at = ? WHERE id = ?`, state, now, id)
	} else {
		res, err = s.db.Exec(`UPDATE documents SET state = ?, status_json = ?, updated_at = ? WHERE id = ?`, state, statusJSON, now, id)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDocumentTags replaces the tag list (JSON array as text).
func (s *Store) UpdateDocumentTags(id, tags string) error {
	return s.updateDocumentField(id, "tags", tags)
}

// UpdateDocumentProject moves the document to another project.
func (s *Store) UpdateDocumentProject(id, projectID string) error {
	return s.updateDocumentField(id, "project_id", projectID)
}

// UpdateDocumentName renames the document.
func (s *Store) UpdateDocumentName(id, name string) error {
	return s.updateDocumentField(id, "name", name)
}

func (s *Store) updateDocumentField(id, column, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	// column is one of a fixed set of callers, never user input.
	res, err := s.db.Exec(`UPDATE documents SET `+column+` = ?, updated_at = ? WHERE id = ?`, value, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Projects ---

func (s *Store) SaveProject(p Project) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, description, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description`,
		p.ID, p.Name, p.Description, createdAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(`SELECT id, name, description, created_at FROM projects ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Project
	for rows.Next() {
		var p Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (s *Store) DeleteProject(id string) error {
	res, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Credentials ---

func (s *Store) SetCredential(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetCredential(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM credentials WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) DeleteCredential(key string) error {
	_, err := s.db.Exec(`DELETE FROM credentials WHERE key = ?`, key)
	return err
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	notBefore := now
	if !job.NotBefore.IsZero() {
		notBefore = job.NotBefore.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload, status, attempts, max_attempts, not_before, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.Payload, maxAttempts, notBefore, now, now,
	)
	return err
}

// ClaimNextJob atomically picks the oldest runnable pending job of one
// of the given types and marks it running. Returns nil when there is
// nothing to do.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload, status, attempts, max_attempts, not_before, last_error, created_at, updated_at
		FROM jobs
		WHERE status = 'pending' AND not_before <= ? AND type IN (?` + placeholders + `)
		ORDER BY not_before ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var notBefore, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.Payload, &j.Status, &j.Attempts, &j.MaxAttempts,
		&notBefore, &lastError, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.NotBefore, err = time.Parse(time.RFC3339, notBefore); err != nil {
		return nil, fmt.Errorf("parsing not_before for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	j.UpdatedAt = j.CreatedAt
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. Until max_attempts is reached the
// job goes back to pending with an exponential not_before backoff;
// after that it is marked failed for good.
func (s *Store) FailJob(id, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, not_before = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Add(backoff).Format(time.RFC3339), now.Format(time.RFC3339), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marchuk/docdeck/internal/auth"
	"github.com/marchuk/docdeck/internal/backend"
	"github.com/marchuk/docdeck/internal/dms"
	"github.com/marchuk/docdeck/internal/pipeline"
	"github.com/marchuk/docdeck/internal/storage"
)

// stubApp swaps newApp for one that builds apps from a test backend
// URL and a shared temp data dir. Each command still gets a fresh
// store handle, matching the real wiring, so state persists across
// commands in the same test.
func stubApp(t *testing.T, backendURL string, local bool) string {
	t.Helper()
	dataDir := t.TempDir()
	old := newApp
	newApp = func() (*app, error) {
		store, err := storage.Open(dataDir)
		if err != nil {
			return nil, err
		}
		tokens := auth.NewManager(store, backendURL)
		api := backend.New(backendURL,
			backend.WithTokenSource(tokens),
			backend.WithRetryPolicy(backend.RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond, Multiplier: 1}))
		opts := []dms.ClientOption{
			dms.WithRepository(store),
			dms.WithCollection("default"),
		}
		if local {
			opts = append(opts, dms.WithLocalMode())
		}
		a := &app{store: store, auth: tokens, client: dms.NewClient(api, opts...)}
		a.cfg.Backend.BaseURL = backendURL
		return a, nil
	}
	t.Cleanup(func() { newApp = old })
	return dataDir
}

func runCommand(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	return rootCmd.Execute()
}

func openDataDir(t *testing.T, dataDir string) *storage.Store {
	t.Helper()
	store, err := storage.Open(dataDir)
	if err != nil {
		t.Fatalf("Open(%s): %v", dataDir, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestUploadCommand_LocalMode(t *testing.T) {
	dataDir := stubApp(t, "http://localhost:0", true)
	file := writeTestFile(t, "notes.txt", "hello world")

	if err := runCommand(t, "upload", file, "--tags", "q3,urgent"); err != nil {
		t.Fatalf("upload: %v", err)
	}

	store := openDataDir(t, dataDir)
	docs, err := store.ListDocuments("", 10)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("stored %d documents, want 1", len(docs))
	}
	if docs[0].Name != "notes.txt" {
		t.Errorf("document name = %q, want notes.txt", docs[0].Name)
	}
	if !strings.Contains(docs[0].Tags, "q3") {
		t.Errorf("document tags = %q, want them to include q3", docs[0].Tags)
	}

	job, err := store.ClaimNextJob([]string{pipeline.JobType})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("upload queued no processing job")
	}
}

func TestUploadCommand_MissingFile(t *testing.T) {
	stubApp(t, "http://localhost:0", true)

	err := runCommand(t, "upload", filepath.Join(t.TempDir(), "absent.txt"))
	if err == nil {
		t.Fatal("expected error for a missing file")
	}
	if !strings.Contains(err.Error(), "reading file") {
		t.Errorf("error = %q, want it to mention 'reading file'", err.Error())
	}
}

func TestStatusCommand_AfterLocalProcessing(t *testing.T) {
	dataDir := stubApp(t, "http://localhost:0", true)
	file := writeTestFile(t, "notes.txt", "hello")

	if err := runCommand(t, "upload", file); err != nil {
		t.Fatalf("upload: %v", err)
	}

	store := openDataDir(t, dataDir)
	docs, err := store.ListDocuments("", 1)
	if err != nil || len(docs) != 1 {
		t.Fatalf("ListDocuments: %v (%d docs)", err, len(docs))
	}

	runner := pipeline.NewRunner(store, pipeline.RunnerConfig{})
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if err := runCommand(t, "status", docs[0].ID); err != nil {
		t.Fatalf("status: %v", err)
	}

	doc, err := store.GetDocument(docs[0].ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.State != storage.DocProcessed {
		t.Errorf("document state = %s, want processed", doc.State)
	}
}

func TestBulkCommand_UnknownAction(t *testing.T) {
	stubApp(t, "http://localhost:0", true)

	err := runCommand(t, "bulk", "explode", "doc-1")
	if err == nil {
		t.Fatal("expected error for an unknown action")
	}
	if !strings.Contains(err.Error(), "unknown bulk action") {
		t.Errorf("error = %q, want it to mention the unknown action", err.Error())
	}
}

func TestLoginCommand_StoresCredentials(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-a","refresh_token":"tok-r"}`))
	}))
	defer srv.Close()

	dataDir := stubApp(t, srv.URL, false)

	if err := runCommand(t, "login", "--email", "dev@example.com", "--password", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if gotPath != "/auth/login" {
		t.Errorf("login path = %q, want /auth/login", gotPath)
	}
	if !strings.Contains(gotBody, "dev@example.com") {
		t.Errorf("login body = %q, want it to carry the email", gotBody)
	}

	// The stored pair survives into a fresh app.
	store := openDataDir(t, dataDir)
	tokens := auth.NewManager(store, srv.URL)
	token, err := tokens.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "tok-a" {
		t.Errorf("stored access token = %q, want tok-a", token)
	}
}

func TestAskCommand_Stream(t *testing.T) {
	var gotStream bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req struct {
			Stream bool `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding query request: %v", err)
		}
		gotStream = req.Stream

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"chunk\":\"partial \"}\n\n")
		fmt.Fprint(w, "data: {\"chunk\":\"answer\"}\n\n")
		fmt.Fprint(w, "data: {\"done\":true,\"answer_length\":15}\n\n")
	}))
	defer srv.Close()

	stubApp(t, srv.URL, false)

	if err := runCommand(t, "ask", "what changed?", "--stream"); err != nil {
		t.Fatalf("ask --stream: %v", err)
	}
	if !gotStream {
		t.Error("query request did not ask for a stream")
	}
}

func TestSplitTags(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"q3", []string{"q3"}},
		{"q3, urgent ,legal", []string{"q3", "urgent", "legal"}},
	}
	for _, tt := range tests {
		got := splitTags(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("splitTags(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("splitTags(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorGreen, "done"); got != "done" {
		t.Errorf("colorize with noColor = %q, want plain text", got)
	}

	noColor = false
	if got := colorize(colorGreen, "done"); !strings.Contains(got, "\033[") {
		t.Errorf("colorize without noColor = %q, want ANSI codes", got)
	}
}

package dms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/marchuk/docdeck/internal/backend"
	"github.com/marchuk/docdeck/internal/storage"
)

func TestBulk_Validation(t *testing.T) {
	c, _ := newLocalClient(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		ids    []string
		action BulkAction
	}{
		{"no documents", nil, DeleteAction{}},
		{"empty tag", []string{"a"}, TagAction{}},
		{"empty untag", []string{"a"}, UntagAction{}},
		{"empty project", []string{"a"}, MoveAction{}},
	}
	for _, tt := range tests {
		if err := c.Bulk(ctx, tt.ids, tt.action); !backend.IsKind(err, backend.KindValidation) {
			t.Errorf("%s: err = %v, want validation", tt.name, err)
		}
	}
}

func TestBulk_DeleteFansOut(t *testing.T) {
	var mu sync.Mutex
	var deleted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		mu.Lock()
		deleted = append(deleted, r.URL.Path)
		mu.Unlock()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newBackendClient(t, srv.URL)
	ids := []string{"a", "b", "c", "d", "e", "f"}
	if err := c.Bulk(context.Background(), ids, DeleteAction{}); err != nil {
		t.Fatalf("Bulk: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	sort.Strings(deleted)
	if len(deleted) != len(ids) {
		t.Fatalf("deleted %d documents, want %d", len(deleted), len(ids))
	}
	for i, id := range ids {
		if want := "/documents/" + id; deleted[i] != want {
			t.Errorf("deleted[%d] = %s, want %s", i, deleted[i], want)
		}
	}
}

func TestBulk_FirstFailureWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/documents/bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newBackendClient(t, srv.URL)
	err := c.Bulk(context.Background(), []string{"a", "bad", "c"}, DeleteAction{})
	if err == nil {
		t.Fatal("Bulk succeeded, want error")
	}
	if backend.StatusOf(err) != http.StatusNotFound {
		t.Errorf("err = %v, want HTTP 404 for document bad", err)
	}
}

func TestBulk_LocalTagAndUntag(t *testing.T) {
	c, store := newLocalClient(t)
	ctx := context.Background()

	for _, id := range []string{"d1", "d2"} {
		if err := store.SaveDocument(storage.Document{ID: id, Name: id + ".txt", Tags: `["existing"]`}); err != nil {
			t.Fatalf("SaveDocument: %v", err)
		}
	}

	if err := c.Bulk(ctx, []string{"d1", "d2"}, TagAction{Tag: "reviewed"}); err != nil {
		t.Fatalf("Bulk tag: %v", err)
	}
	assertTags(t, store, "d1", []string{"existing", "reviewed"})

	// Tagging again is idempotent.
	if err := c.Bulk(ctx, []string{"d1"}, TagAction{Tag: "reviewed"}); err != nil {
		t.Fatalf("Bulk tag twice: %v", err)
	}
	assertTags(t, store, "d1", []string{"existing", "reviewed"})

	if err := c.Bulk(ctx, []string{"d1", "d2"}, UntagAction{Tag: "existing"}); err != nil {
		t.Fatalf("Bulk untag: %v", err)
	}
	assertTags(t, store, "d1", []string{"reviewed"})
	assertTags(t, store, "d2", []string{"reviewed"})
}

func TestBulk_LocalMove(t *testing.T) {
	c, store := newLocalClient(t)

	if err := store.SaveDocument(storage.Document{ID: "d1", Name: "a.txt", ProjectID: "old"}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := c.Bulk(context.Background(), []string{"d1"}, MoveAction{ProjectID: "new"}); err != nil {
		t.Fatalf("Bulk move: %v", err)
	}
	rec, err := store.GetDocument("d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if rec.ProjectID != "new" {
		t.Errorf("ProjectID = %s, want new", rec.ProjectID)
	}
}

func assertTags(t *testing.T, store *storage.Store, id string, want []string) {
	t.Helper()
	rec, err := store.GetDocument(id)
	if err != nil {
		t.Fatalf("GetDocument(%s): %v", id, err)
	}
	var got []string
	if err := json.Unmarshal([]byte(rec.Tags), &got); err != nil {
		t.Fatalf("parsing tags for %s: %v", id, err)
	}
	if len(got) != len(want) {
		t.Fatalf("tags for %s = %v, want %v", id, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tags for %s = %v, want %v", id, got, want)
			return
		}
	}
}

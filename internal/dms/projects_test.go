package dms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marchuk/docdeck/internal/backend"
)

func TestProjects_LocalModeRoundTrip(t *testing.T) {
	c, _ := newLocalClient(t)
	ctx := context.Background()

	if _, err := c.CreateProject(ctx, "", "no name"); !backend.IsKind(err, backend.KindValidation) {
		t.Errorf("empty name: err = %v, want validation", err)
	}

	created, err := c.CreateProject(ctx, "Finance", "Q3 documents")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if created.ID == "" {
		t.Fatal("no project ID assigned")
	}

	projects, err := c.Projects(ctx)
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	if len(projects) != 1 || projects[0].Name != "Finance" {
		t.Fatalf("Projects = %+v", projects)
	}

	if err := c.DeleteProject(ctx, created.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	projects, err = c.Projects(ctx)
	if err != nil {
		t.Fatalf("Projects after delete: %v", err)
	}
	if len(projects) != 0 {
		t.Errorf("Projects after delete = %+v, want none", projects)
	}
}

func TestProjects_FallsBackToLocalStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	store := openTestStore(t)
	c := newBackendClient(t, srv.URL, WithRepository(store))
	seed := NewClient(backend.New(srv.URL), WithRepository(store), WithLocalMode())
	if _, err := seed.CreateProject(context.Background(), "Cached", ""); err != nil {
		t.Fatalf("seeding project: %v", err)
	}

	projects, err := c.Projects(context.Background())
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	if len(projects) != 1 || projects[0].Name != "Cached" {
		t.Errorf("Projects = %+v, want the local record", projects)
	}
}

func TestTags_Validation(t *testing.T) {
	c := newBackendClient(t, "http://localhost:0")
	ctx := context.Background()
	if _, err := c.CreateTag(ctx, "", "red"); !backend.IsKind(err, backend.KindValidation) {
		t.Errorf("CreateTag: err = %v, want validation", err)
	}
	if err := c.DeleteTag(ctx, ""); !backend.IsKind(err, backend.KindValidation) {
		t.Errorf("DeleteTag: err = %v, want validation", err)
	}
}

func TestTags_BackendCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/tags":
			json.NewEncoder(w).Encode([]Tag{{Name: "q3", DocumentCount: 4}})
		case r.Method == http.MethodPost && r.URL.Path == "/tags":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			json.NewEncoder(w).Encode(Tag{Name: body["name"], Color: body["color"]})
		case r.Method == http.MethodDelete && r.URL.Path == "/tags/q3":
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newBackendClient(t, srv.URL)
	ctx := context.Background()

	tags, err := c.Tags(ctx)
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	if len(tags) != 1 || tags[0].DocumentCount != 4 {
		t.Errorf("Tags = %+v", tags)
	}

	tag, err := c.CreateTag(ctx, "urgent", "red")
	if err != nil {
		t.Fatalf("CreateTag: %v", err)
	}
	if tag.Name != "urgent" || tag.Color != "red" {
		t.Errorf("CreateTag = %+v", tag)
	}

	if err := c.DeleteTag(ctx, "q3"); err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}
}

func TestChangePassword_Validation(t *testing.T) {
	c := newBackendClient(t, "http://localhost:0")
	ctx := context.Background()

	if err := c.ChangePassword(ctx, "old", "", ""); !backend.IsKind(err, backend.KindValidation) {
		t.Errorf("empty password: err = %v, want validation", err)
	}
	if err := c.ChangePassword(ctx, "old", "new-1", "new-2"); !backend.IsKind(err, backend.KindValidation) {
		t.Errorf("mismatch: err = %v, want validation", err)
	}
}

func TestInviteMember_DefaultsRole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["role"] != "member" {
			t.Errorf("role = %q, want member", body["role"])
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Member{Email: body["email"], Role: body["role"]})
	}))
	defer srv.Close()

	c := newBackendClient(t, srv.URL)
	member, err := c.InviteMember(context.Background(), "ana@example.com", "")
	if err != nil {
		t.Fatalf("InviteMember: %v", err)
	}
	if member.Email != "ana@example.com" {
		t.Errorf("Email = %q", member.Email)
	}

	if _, err := c.InviteMember(context.Background(), "", "admin"); !backend.IsKind(err, backend.KindValidation) {
		t.Errorf("empty email: err = %v, want validation", err)
	}
}

package dms

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/marchuk/docdeck/internal/backend"
	"github.com/marchuk/docdeck/internal/storage"
)

// ProjectStore extends Repository with project persistence; the SQLite
// store satisfies it.
type ProjectStore interface {
	SaveProject(storage.Project) error
	ListProjects() ([]storage.Project, error)
	DeleteProject(id string) error
}

// CreateProject makes a new project.
func (c *Client) CreateProject(ctx context.Context, name, description string) (*Project, error) {
	if name == "" {
		return nil, backend.ValidationError("project name is required")
	}

	if c.localOnly {
		store, ok := c.local.(ProjectStore)
		if !ok {
			return nil, backend.ValidationError("local store does not support projects")
		}
		p := storage.Project{
			ID:          uuid.New().String(),
			Name:        name,
			Description: description,
			CreatedAt:   nowUTC(),
		}
		if err := store.SaveProject(p); err != nil {
			return nil, err
		}
		return &Project{ID: p.ID, Name: p.Name, Description: p.Description, CreatedAt: p.CreatedAt}, nil
	}

	var project Project
	err := c.api.JSON(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   "/projects",
		JSON:   map[string]string{"name": name, "description": description},
	}, &project)
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// Projects lists all projects, with local fallback on unreachable
// backend.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	if c.localOnly {
		return c.projectsLocal()
	}

	var projects []Project
	err := c.api.JSON(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   "/projects",
	}, &projects)
	if err != nil {
		if _, ok := c.local.(ProjectStore); ok && backend.IsUnreachable(err) {
			c.logger.Warn("backend unreachable, serving projects from local store", "error", err)
			return c.projectsLocal()
		}
		return nil, err
	}
	return projects, nil
}

func (c *Client) projectsLocal() ([]Project, error) {
	store, ok := c.local.(ProjectStore)
	if !ok {
		return nil, backend.ValidationError("local store does not support projects")
	}
	recs, err := store.ListProjects()
	if err != nil {
		return nil, err
	}
	projects := make([]Project, len(recs))
	for i, p := range recs {
		projects[i] = Project{ID: p.ID, Name: p.Name, Description: p.Description, CreatedAt: p.CreatedAt}
	}
	return projects, nil
}

// DeleteProject removes a project. Documents inside it are not
// deleted; the backend reassigns them to the default project.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	if c.localOnly {
		store, ok := c.local.(ProjectStore)
		if !ok {
			return backend.ValidationError("local store does not support projects")
		}
		return store.DeleteProject(id)
	}
	return c.api.JSON(ctx, backend.Request{
		Method: http.MethodDelete,
		Path:   "/projects/" + id,
	}, nil)
}

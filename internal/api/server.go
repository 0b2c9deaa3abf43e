// Package api is the local dashboard API: a thin HTTP surface over the
// domain client so a browser dashboard (or curl) can upload, list,
// poll processing status, and stream answers without linking Go code.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marchuk/docdeck/internal/backend"
	"github.com/marchuk/docdeck/internal/dms"
	"github.com/marchuk/docdeck/internal/storage"
)

const maxUploadSize = 50 << 20 // 50MB

// Deps holds what the handlers need.
type Deps struct {
	Client *dms.Client
	Token  string
}

// NewHandler builds the dashboard router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/documents", handleListDocuments(deps))
		r.Post("/documents", handleUpload(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
		r.Get("/documents/{id}/status", handleStatus(deps))
		r.Post("/documents/{id}/retry", handleRetry(deps))
		r.Get("/projects", handleListProjects(deps))
		r.Post("/query", handleQuery(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		docs, err := deps.Client.Documents(r.Context(), r.URL.Query().Get("project_id"), limit)
		if err != nil {
			writeClientError(w, err)
			return
		}
		writeJSON(w, docs)
	}
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file field is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading file: %v", err)
			return
		}

		doc, err := deps.Client.Upload(r.Context(),
			header.Filename,
			header.Header.Get("Content-Type"),
			data,
			r.FormValue("project_id"),
			r.Form["tags"],
		)
		if err != nil {
			writeClientError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, doc)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Client.GetDocument(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeClientError(w, err)
			return
		}
		writeJSON(w, doc)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Client.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeClientError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := deps.Client.Status(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeClientError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"documentId":  status.DocumentID,
			"currentStep": status.CurrentStep(),
			"progress":    status.Progress(),
			"steps":       status.Steps,
			"failure":     status.Failure,
		})
	}
}

func handleRetry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Client.RetryProcessing(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeClientError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleListProjects(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := deps.Client.Projects(r.Context())
		if err != nil {
			writeClientError(w, err)
			return
		}
		writeJSON(w, projects)
	}
}

type queryBody struct {
	Query       string   `json:"query"`
	DocumentIDs []string `json:"document_ids"`
	TopK        int      `json:"top_k"`
	Model       string   `json:"model"`
	Stream      bool     `json:"stream"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body queryBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		cfg := dms.QueryConfig{TopK: body.TopK, Model: body.Model}

		if !body.Stream {
			answer, err := deps.Client.Ask(r.Context(), body.Query, body.DocumentIDs, cfg)
			if err != nil {
				writeClientError(w, err)
				return
			}
			writeJSON(w, answer)
			return
		}

		stream, err := deps.Client.AskStream(r.Context(), body.Query, body.DocumentIDs, cfg)
		if err != nil {
			writeClientError(w, err)
			return
		}
		defer stream.Close()
		restream(w, stream)
	}
}

// restream forwards decoded events back out as SSE for the dashboard.
func restream(w http.ResponseWriter, stream *dms.AnswerStream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		ev, err := stream.Next()
		if errors.Is(err, backend.ErrStreamDone) {
			return
		}
		if err != nil {
			payload, _ := json.Marshal(map[string]string{"error": err.Error()})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			return
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		if ev.Done {
			return
		}
	}
}

// writeClientError maps domain errors onto HTTP statuses.
func writeClientError(w http.ResponseWriter, err error) {
	var be *backend.Error
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "not found")
	case errors.As(err, &be) && be.Kind == backend.KindValidation:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", be.Message)
	case errors.As(err, &be) && be.Kind == backend.KindHTTP:
		httpError(w, be.Status, "api_error", "%s", be.Message)
	case errors.As(err, &be) && be.Kind == backend.KindTimeout:
		httpError(w, http.StatusGatewayTimeout, "api_error", "%s", be.Message)
	default:
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing useful left to do.
		return
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

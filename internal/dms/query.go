package dms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/marchuk/docdeck/internal/backend"
)

type queryRequest struct {
	Query       string   `json:"query"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	Collection  string   `json:"collection"`
	TopK        int      `json:"top_k,omitempty"`
	Model       string   `json:"model,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

// Ask answers a question over the given documents. Identical questions
// over the same document set hit the cache within its TTL instead of
// reaching the backend.
func (c *Client) Ask(ctx context.Context, query string, documentIDs []string, cfg QueryConfig) (*Answer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, backend.ValidationError("query must not be empty")
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(query, documentIDs, c.collection, cfg.asMap()); ok {
			c.logger.Debug("query served from cache", "query", query)
			answer, ok := cached.(*Answer)
			if ok {
				return answer, nil
			}
		}
	}

	var answer Answer
	err := c.api.JSON(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   "/query",
		JSON: queryRequest{
			Query:       query,
			DocumentIDs: documentIDs,
			Collection:  c.collection,
			TopK:        cfg.TopK,
			Model:       cfg.Model,
		},
	}, &answer)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Put(query, documentIDs, c.collection, cfg.asMap(), &answer)
	}
	return &answer, nil
}

// AnswerStream yields StreamEvents until the terminal done event.
// Close it on every exit path; a broken stream is not resumable, so
// restart means a new AskStream call.
type AnswerStream struct {
	events *backend.EventStream
}

// Next returns the next event. The event with Done set is the last
// one; subsequent calls return backend.ErrStreamDone.
func (s *AnswerStream) Next() (StreamEvent, error) {
	data, err := s.events.Next()
	if err != nil {
		return StreamEvent{}, err
	}
	var ev StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return StreamEvent{}, fmt.Errorf("decoding stream event: %w", err)
	}
	return ev, nil
}

// Close releases the underlying connection.
func (s *AnswerStream) Close() error { return s.events.Close() }

// AskStream answers a question as an incremental stream. Streamed
// answers are not cached: the caller sees partial chunks, and the
// assembled answer may be cut short by disconnects.
func (c *Client) AskStream(ctx context.Context, query string, documentIDs []string, cfg QueryConfig) (*AnswerStream, error) {
	if strings.TrimSpace(query) == "" {
		return nil, backend.ValidationError("query must not be empty")
	}

	events, err := c.api.Stream(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   "/query",
		JSON: queryRequest{
			Query:       query,
			DocumentIDs: documentIDs,
			Collection:  c.collection,
			TopK:        cfg.TopK,
			Model:       cfg.Model,
			Stream:      true,
		},
	})
	if err != nil {
		return nil, err
	}
	return &AnswerStream{events: events}, nil
}

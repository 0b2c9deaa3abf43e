package dms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marchuk/docdeck/internal/backend"
	"github.com/marchuk/docdeck/internal/querycache"
)

func TestAsk_EmptyQueryRejectedBeforeNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be reached")
	}))
	defer srv.Close()

	c := newBackendClient(t, srv.URL)
	for _, q := range []string{"", "   ", "\n\t"} {
		if _, err := c.Ask(context.Background(), q, nil, QueryConfig{}); !backend.IsKind(err, backend.KindValidation) {
			t.Errorf("Ask(%q): err = %v, want validation", q, err)
		}
	}
}

func TestAsk_CachesAnswers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Query      string `json:"query"`
			Collection string `json:"collection"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Collection != "default" {
			t.Errorf("collection = %q, want default", req.Collection)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Answer{Answer: "42", Sources: []Source{{DocumentID: "doc-1", Score: 0.9}}})
	}))
	defer srv.Close()

	c := newBackendClient(t, srv.URL, WithCache(querycache.New(time.Minute)))
	ctx := context.Background()

	first, err := c.Ask(ctx, "meaning of life?", []string{"doc-1"}, QueryConfig{})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	second, err := c.Ask(ctx, "meaning of life?", []string{"doc-1"}, QueryConfig{})
	if err != nil {
		t.Fatalf("Ask (cached): %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1 (second must hit the cache)", got)
	}
	if first.Answer != second.Answer {
		t.Errorf("cached answer %q differs from original %q", second.Answer, first.Answer)
	}

	// A different config is a different key and goes back to the server.
	if _, err := c.Ask(ctx, "meaning of life?", []string{"doc-1"}, QueryConfig{TopK: 5}); err != nil {
		t.Fatalf("Ask (different config): %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
}

func TestAsk_NoCacheConfigured(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Answer{Answer: "ok"})
	}))
	defer srv.Close()

	c := newBackendClient(t, srv.URL)
	ctx := context.Background()
	c.Ask(ctx, "q", nil, QueryConfig{})
	c.Ask(ctx, "q", nil, QueryConfig{})
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2 without a cache", got)
	}
}

func TestAskStream_DecodesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("stream flag not set on the wire")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"chunk\":\"The answer\"}\n\n")
		fmt.Fprint(w, "data: {\"chunk\":\" is 42.\"}\n\n")
		fmt.Fprint(w, "data: {\"done\":true,\"answer_length\":17}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := newBackendClient(t, srv.URL)
	stream, err := c.AskStream(context.Background(), "meaning of life?", nil, QueryConfig{})
	if err != nil {
		t.Fatalf("AskStream: %v", err)
	}
	defer stream.Close()

	var assembled string
	var sawDone bool
	for {
		ev, err := stream.Next()
		if errors.Is(err, backend.ErrStreamDone) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		assembled += ev.Chunk
		if ev.Done {
			sawDone = true
			if ev.AnswerLength != 17 {
				t.Errorf("AnswerLength = %d, want 17", ev.AnswerLength)
			}
		}
	}
	if assembled != "The answer is 42." {
		t.Errorf("assembled = %q", assembled)
	}
	if !sawDone {
		t.Error("done event never seen")
	}
}

func TestAskStream_EmptyQueryRejected(t *testing.T) {
	c := newBackendClient(t, "http://localhost:0")
	if _, err := c.AskStream(context.Background(), " ", nil, QueryConfig{}); !backend.IsKind(err, backend.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

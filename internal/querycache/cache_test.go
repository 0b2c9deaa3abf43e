package querycache

import (
	"fmt"
	"testing"
	"time"
)

func TestCache_HitAndMiss(t *testing.T) {
	c := New(time.Minute)

	if _, ok := c.Get("what changed?", []string{"a"}, "default", nil); ok {
		t.Fatal("Get hit on an empty cache")
	}

	c.Put("what changed?", []string{"a"}, "default", nil, "answer-1")

	got, ok := c.Get("what changed?", []string{"a"}, "default", nil)
	if !ok {
		t.Fatal("Get missed a just-stored entry")
	}
	if got != "answer-1" {
		t.Errorf("Get = %v, want answer-1", got)
	}

	// Any differing argument is a different key.
	if _, ok := c.Get("what changed?", []string{"b"}, "default", nil); ok {
		t.Error("hit for a different document set")
	}
	if _, ok := c.Get("what changed?", []string{"a"}, "other", nil); ok {
		t.Error("hit for a different collection")
	}
	if _, ok := c.Get("what changed?", []string{"a"}, "default", map[string]any{"top_k": 3}); ok {
		t.Error("hit for a different config")
	}
}

func TestCache_DocumentOrderIrrelevant(t *testing.T) {
	c := New(time.Minute)
	c.Put("q", []string{"a", "b", "c"}, "default", nil, 42)

	if _, ok := c.Get("q", []string{"c", "a", "b"}, "default", nil); !ok {
		t.Error("Get missed when document IDs were reordered")
	}
}

func TestCache_ConfigKeyOrderIrrelevant(t *testing.T) {
	k1 := Key("q", nil, "default", map[string]any{"top_k": 3, "model": "fast"})
	k2 := Key("q", nil, "default", map[string]any{"model": "fast", "top_k": 3})
	if k1 != k2 {
		t.Errorf("keys differ for equal configs: %s vs %s", k1, k2)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Put("q", []string{"a"}, "default", nil, "v")

	c.now = func() time.Time { return base.Add(59 * time.Second) }
	if _, ok := c.Get("q", []string{"a"}, "default", nil); !ok {
		t.Error("entry expired before its TTL")
	}

	c.now = func() time.Time { return base.Add(time.Minute) }
	if _, ok := c.Get("q", []string{"a"}, "default", nil); ok {
		t.Error("entry served at exactly TTL, want miss")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after expired lookup, want 0 (evict on read)", c.Len())
	}
}

func TestCache_InvalidateForDocuments(t *testing.T) {
	c := New(time.Minute)
	c.Put("q1", []string{"a", "b"}, "default", nil, 1)
	c.Put("q2", []string{"b", "c"}, "default", nil, 2)
	c.Put("q3", []string{"d"}, "default", nil, 3)

	removed := c.InvalidateForDocuments([]string{"b"})
	if removed != 2 {
		t.Errorf("removed %d entries, want 2", removed)
	}
	if _, ok := c.Get("q3", []string{"d"}, "default", nil); !ok {
		t.Error("unrelated entry was invalidated")
	}
	if _, ok := c.Get("q1", []string{"a", "b"}, "default", nil); ok {
		t.Error("entry over invalidated document still served")
	}
}

func TestCache_SweepPurgesExpired(t *testing.T) {
	c := New(time.Minute)
	c.sweepSize = 4
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	for i := 0; i < 4; i++ {
		c.Put(fmt.Sprintf("old-%d", i), nil, "default", nil, i)
	}

	// Past the TTL, the fifth insert pushes size over sweepSize and
	// purges the stale four.
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	c.Put("fresh", nil, "default", nil, "v")

	if c.Len() != 1 {
		t.Errorf("Len = %d after sweep, want 1", c.Len())
	}
	if _, ok := c.Get("fresh", nil, "default", nil); !ok {
		t.Error("fresh entry was swept")
	}
}

func TestKey_Deterministic(t *testing.T) {
	k1 := Key("q", []string{"a"}, "default", map[string]any{"nested": map[string]any{"b": 1, "a": 2}})
	k2 := Key("q", []string{"a"}, "default", map[string]any{"nested": map[string]any{"a": 2, "b": 1}})
	if k1 != k2 {
		t.Error("nested config key order changed the cache key")
	}
	if len(k1) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(k1))
	}
}

// Package querycache keeps recent query answers so identical questions
// over the same document set are not re-sent to the backend within a
// freshness window.
package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marchuk/docdeck/internal/metrics"
)

const (
	// DefaultTTL is the freshness window for cached answers.
	DefaultTTL = 5 * time.Minute
	// defaultSweepSize triggers an expired-entry purge once the cache
	// grows past it. Capacity is otherwise unbounded.
	defaultSweepSize = 256
)

type entry struct {
	value     any
	docIDs    map[string]struct{}
	expiresAt time.Time
}

// Cache is a TTL-keyed map from (query, document set, collection,
// config) to a prior answer. Safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	ttl       time.Duration
	sweepSize int
	entries   map[string]entry

	// now is swapped by tests to fake expiry.
	now func() time.Time
}

// New creates a cache with the given TTL. ttl <= 0 uses DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:       ttl,
		sweepSize: defaultSweepSize,
		entries:   make(map[string]entry),
		now:       time.Now,
	}
}

// Key derives the deterministic cache key. Document IDs are sorted
// first so the key is order-insensitive, and config is canonicalized
// (keys sorted recursively) so equal configs always hash equal.
func Key(query string, documentIDs []string, collection string, config map[string]any) string {
	ids := make([]string, len(documentIDs))
	copy(ids, documentIDs)
	sort.Strings(ids)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", query, strings.Join(ids, ","), collection, canonicalJSON(config))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached answer for the arguments, or false on miss.
// An expired entry counts as a miss and is evicted on the way out.
func (c *Cache) Get(query string, documentIDs []string, collection string, config map[string]any) (any, bool) {
	key := Key(query, documentIDs, collection, config)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		metrics.QueryCacheMisses.Inc()
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		metrics.QueryCacheMisses.Inc()
		return nil, false
	}
	metrics.QueryCacheHits.Inc()
	return e.value, true
}

// Put stores value under the derived key with expiry now + TTL.
func (c *Cache) Put(query string, documentIDs []string, collection string, config map[string]any, value any) {
	key := Key(query, documentIDs, collection, config)

	idSet := make(map[string]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		idSet[id] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{
		value:     value,
		docIDs:    idSet,
		expiresAt: c.now().Add(c.ttl),
	}

	if len(c.entries) > c.sweepSize {
		c.sweepLocked()
	}
}

// InvalidateForDocuments removes every entry whose document set
// intersects the given IDs. Called when documents are edited or
// deleted so stale analysis is never served. Returns the number of
// entries removed.
func (c *Cache) InvalidateForDocuments(documentIDs []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		for _, id := range documentIDs {
			if _, ok := e.docIDs[id]; ok {
				delete(c.entries, key)
				removed++
				break
			}
		}
	}
	return removed
}

// Len returns the number of entries currently stored, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sweepLocked purges expired entries. Simple housekeeping, not LRU.
func (c *Cache) sweepLocked() {
	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// canonicalJSON renders v with object keys sorted recursively.
func canonicalJSON(v any) string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			b.WriteString(canonicalJSON(t[k]))
		}
		b.WriteByte('}')
		return b.String()
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonicalJSON(item))
		}
		b.WriteByte(']')
		return b.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

// Package dedup provides a bounded window of recently seen event keys used to
// suppress duplicate relays within a session.
package dedup

import (
	"fmt"
	"strings"

	"pwnrelay/internal/metrics"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultLimit is the window size used when none is configured
const DefaultLimit = 200

// Key identifies a logical event: a resource plus two participants
// (e.g. capture file, access point MAC, client MAC).
type Key struct {
	Resource string
	A        string
	B        string
}

// NewKey builds a key with every part lower-cased so comparisons are
// case-insensitive.
func NewKey(resource, a, b string) Key {
	return Key{
		Resource: strings.ToLower(resource),
		A:        strings.ToLower(a),
		B:        strings.ToLower(b),
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Resource, k.A, k.B)
}

// Window remembers up to limit keys. Once full, the oldest inserted key is
// evicted first; lookups never refresh a key's position, so eviction follows
// insertion order rather than recency of use.
type Window struct {
	limit   int
	cache   *lru.Cache
	metrics *metrics.Dedup
}

// NewWindow creates a window holding at most limit keys. A non-positive limit
// falls back to DefaultLimit.
func NewWindow(limit int, m *metrics.Dedup) (*Window, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	w := &Window{limit: limit, metrics: m}
	cache, err := lru.NewWithEvict(limit, func(key, value interface{}) {
		w.metrics.IncEvicted()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	w.cache = cache
	return w, nil
}

// Observed reports whether key was already seen. Unseen keys are recorded.
func (w *Window) Observed(key Key) bool {
	seen, _ := w.cache.ContainsOrAdd(key, struct{}{})
	if seen {
		w.metrics.IncSuppressed()
	}
	w.metrics.SetResident(w.cache.Len())
	return seen
}

// Len returns the number of resident keys
func (w *Window) Len() int {
	return w.cache.Len()
}

// Limit returns the configured capacity
func (w *Window) Limit() int {
	return w.limit
}

// keys returns the resident keys, oldest first
func (w *Window) keys() []Key {
	raw := w.cache.Keys()
	keys := make([]Key, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(Key))
	}
	return keys
}

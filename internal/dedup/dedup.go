// Package dedup remembers which snippets of raw text have already been
// processed so a source that re-delivers the same message does not create
// duplicate deadlines.
//
// Only exact text (after trimming surrounding whitespace) is matched.
// Two messages that differ by a single character are both processed.
// The set lives in memory and starts empty on every restart.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Filter is a set of fingerprints of processed text.
type Filter struct {
	mu       sync.Mutex
	capacity int
	bounded  *lru.Cache[string, struct{}]
	seen     map[string]struct{}
}

// New returns a Filter. capacity > 0 evicts the least recently seen
// fingerprint once full; capacity <= 0 keeps every fingerprint.
func New(capacity int) (*Filter, error) {
	f := &Filter{capacity: capacity}
	if capacity > 0 {
		cache, err := lru.New[string, struct{}](capacity)
		if err != nil {
			return nil, fmt.Errorf("dedup filter init: %w", err)
		}
		f.bounded = cache
		return f, nil
	}
	f.seen = make(map[string]struct{})
	return f, nil
}

// Fingerprint returns the hex SHA-256 of the trimmed text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

// Seen reports whether text was seen before and marks it seen.
func (f *Filter) Seen(text string) bool {
	key := Fingerprint(text)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bounded != nil {
		if f.bounded.Contains(key) {
			// Refresh recency.
			f.bounded.Get(key)
			return true
		}
		f.bounded.Add(key, struct{}{})
		return false
	}

	if _, ok := f.seen[key]; ok {
		return true
	}
	f.seen[key] = struct{}{}
	return false
}

// Forget removes text from the set so it will be processed again.
func (f *Filter) Forget(text string) {
	key := Fingerprint(text)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bounded != nil {
		f.bounded.Remove(key)
		return
	}
	delete(f.seen, key)
}

// Len returns the number of remembered fingerprints.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bounded != nil {
		return f.bounded.Len()
	}
	return len(f.seen)
}

// Reset empties the set.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bounded != nil {
		f.bounded.Purge()
		return
	}
	f.seen = make(map[string]struct{})
}

// Capacity returns the configured bound, or 0 when unbounded.
func (f *Filter) Capacity() int {
	if f.capacity < 0 {
		return 0
	}
	return f.capacity
}

// Package dedup remembers recently seen frame ids so that events replayed by
// the server after a reconnect are delivered once.
package dedup

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Filter is a bounded set of recent ids. Once full, the least recently seen
// id is forgotten. Safe for concurrent use.
type Filter struct {
	cache *lru.Cache[string, struct{}]
}

// New creates a Filter remembering up to size ids.
func New(size int) (*Filter, error) {
	c, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}
	return &Filter{cache: c}, nil
}

// Seen reports whether id was already recorded, recording it if not.
// Empty ids are never considered duplicates.
func (f *Filter) Seen(id string) bool {
	if id == "" {
		return false
	}
	found, _ := f.cache.ContainsOrAdd(id, struct{}{})
	if found {
		// Refresh recency so a frame replayed repeatedly stays remembered.
		f.cache.Get(id)
	}
	return found
}

// Len returns the number of remembered ids.
func (f *Filter) Len() int {
	return f.cache.Len()
}

// Reset forgets every id.
func (f *Filter) Reset() {
	f.cache.Purge()
}

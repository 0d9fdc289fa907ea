package expression

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

// Cache memoizes subexpression results for one reasoning pass. Entries are
// keyed by the rendered node together with the current values of the fields
// it reads, so a hit is valid regardless of which rule or layer asks. A
// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]value.Value

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]value.Value)}
}

// Key builds the cache key of n against facts. reads must be the fields n
// references.
func Key(n Node, reads []string, facts Facts) string {
	var sb strings.Builder
	sb.WriteString(n.String())
	for _, name := range reads {
		sb.WriteByte(0)
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(Resolve(facts, Field(name)).String())
	}
	return sb.String()
}

// Get returns a cached value.
func (c *Cache) Get(key string) (value.Value, bool) {
	if c == nil {
		return value.Absent(), false
	}
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Put stores a value.
func (c *Cache) Put(key string, v value.Value) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()
}

// Stats returns the hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

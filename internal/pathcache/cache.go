// Package pathcache remembers the known children of remote folders so
// path resolution can skip listing calls. Entries are keyed by parent
// folder id, bounded by a key budget evicted least recently used first,
// and optionally expire a fixed age after their last write.
package pathcache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jonboulle/clockwork"

	"github.com/naokikimura/carp-streamer/internal/remote"
)

// DefaultMaxEntries is the key budget used when Options.MaxEntries <= 0.
const DefaultMaxEntries = 10_000

// Options configures a Cache.
type Options struct {
	// MaxEntries bounds the number of parent keys held.
	MaxEntries int

	// MaxAge expires an entry this long after its last Put. Zero disables
	// age-based expiry.
	MaxAge time.Duration

	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

type entry struct {
	entities []remote.Entity
	index    map[remote.Key]int
	storedAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	lru    *simplelru.LRU[string, *entry]
	maxAge time.Duration
	clock  clockwork.Clock
}

// New creates an empty cache.
func New(opts Options) *Cache {
	size := opts.MaxEntries
	if size <= 0 {
		size = DefaultMaxEntries
	}

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	// NewLRU only fails for a non-positive size.
	lru, err := simplelru.NewLRU[string, *entry](size, nil)
	if err != nil {
		panic(err)
	}

	return &Cache{lru: lru, maxAge: opts.MaxAge, clock: clock}
}

// Get returns the known children of parentID in insertion order, or nil
// when the key is unknown or expired. A hit marks the key recently used.
func (c *Cache) Get(parentID string) []remote.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(parentID)
	if !ok {
		return nil
	}

	if c.expired(e) {
		c.lru.Remove(parentID)
		return nil
	}

	out := make([]remote.Entity, len(e.entities))
	copy(out, e.entities)

	return out
}

// Put merges entities into parentID's entry. Entities are matched by
// (kind, id); a later observation replaces an earlier one in place.
func (c *Cache) Put(parentID string, entities ...remote.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(parentID)
	if !ok || c.expired(e) {
		e = &entry{index: make(map[remote.Key]int, len(entities))}
		c.lru.Add(parentID, e)
	}

	for i := range entities {
		e.merge(entities[i])
	}

	e.storedAt = c.clock.Now()
}

// Remove evicts a single entity from parentID's entry.
func (c *Cache) Remove(parentID string, kind remote.Kind, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(parentID)
	if !ok {
		return
	}

	key := remote.Key{Kind: kind, ID: id}
	if _, found := e.index[key]; !found {
		return
	}

	kept := e.entities[:0]
	clear(e.index)

	for i := range e.entities {
		if e.entities[i].Key() != key {
			e.index[e.entities[i].Key()] = len(kept)
			kept = append(kept, e.entities[i])
		}
	}

	e.entities = kept
}

// Delete drops parentID's entry entirely.
func (c *Cache) Delete(parentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(parentID)
}

// Len returns the number of parent keys held, including any that have
// expired but not yet been read.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
}

func (c *Cache) expired(e *entry) bool {
	return c.maxAge > 0 && c.clock.Since(e.storedAt) > c.maxAge
}

// merge inserts or replaces one entity. Replacement keeps the original
// position so iteration order stays stable across refreshes.
func (e *entry) merge(ent remote.Entity) {
	key := ent.Key()
	if i, ok := e.index[key]; ok {
		e.entities[i] = ent
		return
	}

	e.index[key] = len(e.entities)
	e.entities = append(e.entities, ent)
}

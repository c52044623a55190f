package pathcache

import (
	"time"

	"github.com/naokikimura/carp-streamer/internal/remote"
)

// Snapshot is the serializable state of a Cache. Entries are ordered from
// least to most recently used.
type Snapshot struct {
	Entries []SnapshotEntry `json:"entries"`
}

// SnapshotEntry is one parent key with its children and write time.
type SnapshotEntry struct {
	ParentID string          `json:"parent_id"`
	Entities []remote.Entity `json:"entities"`
	StoredAt time.Time       `json:"stored_at"`
}

// Dump captures the full cache state without touching recency.
func (c *Cache) Dump() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.lru.Keys()
	snap := Snapshot{Entries: make([]SnapshotEntry, 0, len(keys))}

	for _, k := range keys {
		e, ok := c.lru.Peek(k)
		if !ok {
			continue
		}

		entities := make([]remote.Entity, len(e.entities))
		copy(entities, e.entities)

		snap.Entries = append(snap.Entries, SnapshotEntry{
			ParentID: k,
			Entities: entities,
			StoredAt: e.storedAt,
		})
	}

	return snap
}

// Load replaces the cache contents with snap, restoring recency order and
// write times. Entries already past MaxAge are skipped. When snap holds
// more keys than the budget, the least recently used ones are dropped.
func (c *Cache) Load(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()

	for _, se := range snap.Entries {
		e := &entry{index: make(map[remote.Key]int, len(se.Entities)), storedAt: se.StoredAt}
		for i := range se.Entities {
			e.merge(se.Entities[i])
		}

		if c.expired(e) {
			continue
		}

		c.lru.Add(se.ParentID, e)
	}
}

// Len returns the number of parent keys in the snapshot.
func (s Snapshot) Len() int { return len(s.Entries) }

// EntityCount returns the total number of entities across all keys.
func (s Snapshot) EntityCount() int {
	n := 0
	for i := range s.Entries {
		n += len(s.Entries[i].Entities)
	}

	return n
}

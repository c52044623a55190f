package pathcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naokikimura/carp-streamer/internal/remote"
)

func folder(id, name string) remote.Entity {
	return remote.NewFolder(id, name, "1", "p", 0)
}

func TestCache_GetUnknownIsEmpty(t *testing.T) {
	c := New(Options{})
	assert.Empty(t, c.Get("nope"))
}

func TestCache_MergeIsOrderIndependent(t *testing.T) {
	x := folder("1", "x")
	y := remote.NewFile("2", "y", "1", "p", "abc", 3)

	a := New(Options{})
	a.Put("p", x)
	a.Put("p", y)

	b := New(Options{})
	b.Put("p", y)
	b.Put("p", x)

	assert.ElementsMatch(t, a.Get("p"), b.Get("p"))
	assert.Len(t, a.Get("p"), 2)
}

func TestCache_NewestObservationWins(t *testing.T) {
	c := New(Options{})
	c.Put("p", folder("1", "old"), folder("2", "b"))
	c.Put("p", folder("1", "new"))

	got := c.Get("p")
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Name, "replacement keeps insertion position")
	assert.Equal(t, "b", got[1].Name)
}

func TestCache_SameIDDifferentKindAreDistinct(t *testing.T) {
	c := New(Options{})
	c.Put("p", folder("1", "a"), remote.NewFile("1", "a", "1", "p", "", 0))

	assert.Len(t, c.Get("p"), 2)
}

func TestCache_GetReturnsCopy(t *testing.T) {
	c := New(Options{})
	c.Put("p", folder("1", "a"))

	got := c.Get("p")
	got[0].Name = "mutated"

	assert.Equal(t, "a", c.Get("p")[0].Name)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(Options{MaxEntries: 2})
	c.Put("a", folder("1", "x"))
	c.Put("b", folder("2", "x"))

	// Touch a so b becomes the eviction candidate.
	require.NotEmpty(t, c.Get("a"))

	c.Put("c", folder("3", "x"))

	assert.Equal(t, 2, c.Len())
	assert.NotEmpty(t, c.Get("a"))
	assert.Empty(t, c.Get("b"))
	assert.NotEmpty(t, c.Get("c"))
}

func TestCache_MaxAgeFromLastPut(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(Options{MaxAge: time.Minute, Clock: clock})

	c.Put("p", folder("1", "a"))
	clock.Advance(45 * time.Second)
	c.Put("p", folder("2", "b"))
	clock.Advance(45 * time.Second)

	assert.Len(t, c.Get("p"), 2, "age is measured from the last Put")

	clock.Advance(30 * time.Second)
	assert.Empty(t, c.Get("p"))
	assert.Equal(t, 0, c.Len(), "expired entries are dropped on read")
}

func TestCache_PutAfterExpiryStartsFresh(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(Options{MaxAge: time.Minute, Clock: clock})

	c.Put("p", folder("1", "a"))
	clock.Advance(2 * time.Minute)
	c.Put("p", folder("2", "b"))

	got := c.Get("p")
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)
}

func TestCache_RemoveAndDelete(t *testing.T) {
	c := New(Options{})
	c.Put("p", folder("1", "a"), folder("2", "b"), folder("3", "c"))

	c.Remove("p", remote.KindFolder, "2")
	c.Remove("p", remote.KindFile, "3") // wrong kind: no-op
	c.Remove("missing", remote.KindFolder, "1")

	got := c.Get("p")
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)

	// Index stays consistent after removal.
	c.Put("p", folder("3", "c2"))
	assert.Equal(t, "c2", c.Get("p")[1].Name)

	c.Delete("p")
	assert.Empty(t, c.Get("p"))
}

func TestCache_Purge(t *testing.T) {
	c := New(Options{})
	c.Put("a", folder("1", "x"))
	c.Put("b", folder("2", "x"))

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCache_ConcurrentPutsOnOneKey(t *testing.T) {
	c := New(Options{})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			c.Put("p", folder(fmt.Sprint(i), fmt.Sprint("n", i)))
			_ = c.Get("p")
		}()
	}

	wg.Wait()

	assert.Len(t, c.Get("p"), 50)
}

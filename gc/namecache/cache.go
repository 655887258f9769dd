// Package namecache stores optional per-object debug names.
//
// Names are pure diagnostics: fatal trace reports and test harnesses
// resolve them, and FindObjectByName-style lookups match them
// case-insensitively using Unicode case folding.
//
// Concurrency: 16-shard design with per-shard mutexes reduces contention
// when tracer workers resolve names for diagnostics concurrently.
package namecache

import (
	"hash/fnv"
	"sync"

	"golang.org/x/text/cases"

	"github.com/joshuapare/gckit/pkg/types"
)

// numShards is the number of independent shards.
// Must be a power of two for fast modulo via bitmask.
const numShards = 16

// indexShard maps object indices to their assigned names.
type indexShard struct {
	mu    sync.Mutex
	names map[types.Index]string
}

// nameShard maps case-folded names back to object indices. Each shard
// owns a Caser because cases.Caser is not safe for concurrent use.
type nameShard struct {
	mu     sync.Mutex
	folder cases.Caser
	byName map[string]types.Index
}

// Cache is a sharded, concurrency-safe debug-name table.
type Cache struct {
	byIndex [numShards]indexShard
	byName  [numShards]nameShard
}

// New creates an empty name cache.
func New() *Cache {
	c := &Cache{}
	for i := range c.byIndex {
		c.byIndex[i].names = make(map[types.Index]string)
	}
	for i := range c.byName {
		c.byName[i].folder = cases.Fold()
		c.byName[i].byName = make(map[string]types.Index)
	}
	return c
}

// indexShardFor picks the shard owning an object index.
func (c *Cache) indexShardFor(idx types.Index) *indexShard {
	return &c.byIndex[idx&(numShards-1)]
}

// nameShardFor picks the shard owning a folded name, by FNV-1a hash.
func (c *Cache) nameShardFor(folded string) *nameShard {
	h := fnv.New32a()
	h.Write([]byte(folded))
	return &c.byName[h.Sum32()&(numShards-1)]
}

// fold case-folds a name in the shard that will own it and returns both.
func (c *Cache) fold(name string) (string, *nameShard) {
	// Folding needs a shard's Caser, but the owning shard is only known
	// after folding. Borrow shard 0's Caser for the transform itself.
	s0 := &c.byName[0]
	s0.mu.Lock()
	folded := s0.folder.String(name)
	s0.mu.Unlock()
	return folded, c.nameShardFor(folded)
}

// Set assigns a debug name to an object, replacing any previous name.
// An empty name removes the entry.
func (c *Cache) Set(idx types.Index, name string) {
	if name == "" {
		c.Remove(idx)
		return
	}

	is := c.indexShardFor(idx)
	is.mu.Lock()
	prev := is.names[idx]
	is.names[idx] = name
	is.mu.Unlock()

	if prev != "" {
		c.removeFolded(prev, idx)
	}
	folded, ns := c.fold(name)
	ns.mu.Lock()
	ns.byName[folded] = idx
	ns.mu.Unlock()
}

// Name returns the debug name assigned to an object, if any.
func (c *Cache) Name(idx types.Index) (string, bool) {
	is := c.indexShardFor(idx)
	is.mu.Lock()
	name, ok := is.names[idx]
	is.mu.Unlock()
	return name, ok
}

// Lookup resolves a name to an object index, matching case-insensitively.
// When several objects share a folded name the surviving mapping is the
// most recently assigned one.
func (c *Cache) Lookup(name string) (types.Index, bool) {
	folded, ns := c.fold(name)
	ns.mu.Lock()
	idx, ok := ns.byName[folded]
	ns.mu.Unlock()
	if !ok {
		return types.InvalidIndex, false
	}
	return idx, true
}

// Remove drops an object's name, typically when its index is recycled.
func (c *Cache) Remove(idx types.Index) {
	is := c.indexShardFor(idx)
	is.mu.Lock()
	name, ok := is.names[idx]
	delete(is.names, idx)
	is.mu.Unlock()
	if ok {
		c.removeFolded(name, idx)
	}
}

// removeFolded drops a folded-name mapping, but only if it still points
// at idx. A later Set for the same name must win.
func (c *Cache) removeFolded(name string, idx types.Index) {
	folded, ns := c.fold(name)
	ns.mu.Lock()
	if cur, ok := ns.byName[folded]; ok && cur == idx {
		delete(ns.byName, folded)
	}
	ns.mu.Unlock()
}

// Len returns the number of named objects.
func (c *Cache) Len() int {
	n := 0
	for i := range c.byIndex {
		is := &c.byIndex[i]
		is.mu.Lock()
		n += len(is.names)
		is.mu.Unlock()
	}
	return n
}

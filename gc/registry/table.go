// Package registry implements the object state registry: a dense table
// mapping object index to collector state, plus the heap API that writes
// reference slots and dynamic containers into the arena slab.
//
// Indices are stable for the lifetime of an object and recycled through a
// free list once the destruction pipeline frees the slot. The table's
// backing array is allocated at full capacity up front so *Item pointers
// handed to the tracer stay valid across allocations.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/gckit/gc/alloc"
	"github.com/joshuapare/gckit/gc/layout"
	"github.com/joshuapare/gckit/gc/namecache"
	"github.com/joshuapare/gckit/internal/arena"
	"github.com/joshuapare/gckit/internal/format"
	"github.com/joshuapare/gckit/pkg/types"
)

var (
	// ErrTableFull indicates the object table has no free slots left.
	ErrTableFull = errors.New("registry: object table full")
)

// Config sizes a table.
type Config struct {
	// MaxObjects caps the number of simultaneously live objects. The
	// backing array is reserved up front at this capacity.
	MaxObjects uint32
	// ArenaCapacity is the reference-slot slab size in bytes. Zero means
	// arena.DefaultCapacity.
	ArenaCapacity uint32
	// Slots configures the slot-block allocator size classes.
	Slots alloc.Config
}

// DefaultConfig returns a table configuration suitable for tests and
// small hosts.
func DefaultConfig() Config {
	return Config{
		MaxObjects:    1 << 20,
		ArenaCapacity: arena.DefaultCapacity,
		Slots:         alloc.DefaultConfig,
	}
}

// Table is the object state registry.
type Table struct {
	typeReg *layout.Registry
	names   *namecache.Cache
	slab    *arena.Arena
	slots   *alloc.Allocator

	mu       sync.Mutex
	items    []Item // grows by append within fixed capacity
	freeList []types.Index
	live     int

	firstGC    types.Index // objects below this index are permanent
	collecting atomic.Bool
}

// New creates a table over a fresh anonymous arena.
func New(typeReg *layout.Registry, cfg Config) (*Table, error) {
	if cfg.MaxObjects == 0 {
		return nil, fmt.Errorf("registry: MaxObjects must be positive")
	}
	capacity := cfg.ArenaCapacity
	if capacity == 0 {
		capacity = arena.DefaultCapacity
	}
	slab, err := arena.New(int(capacity))
	if err != nil {
		return nil, fmt.Errorf("registry: arena: %w", err)
	}
	return &Table{
		typeReg: typeReg,
		names:   namecache.New(),
		slab:    slab,
		slots:   alloc.New(capacity, cfg.Slots),
		items:   make([]Item, 0, cfg.MaxObjects),
	}, nil
}

// Close releases the arena. The table must not be used afterwards.
func (t *Table) Close() error {
	return t.slab.Close()
}

// Types returns the layout registry the table was built over.
func (t *Table) Types() *layout.Registry { return t.typeReg }

// Slab returns the backing reference-slot slab.
func (t *Table) Slab() []byte { return t.slab.Bytes() }

// Allocate creates a new object of the given type and returns its index.
// The payload may be nil for objects with no asynchronous teardown.
// Allocating while a collection cycle holds the lock is a programming
// error upstream and is fatal.
func (t *Table) Allocate(id types.TypeID, payload types.Payload) (types.Index, error) {
	if t.collecting.Load() {
		types.Fatalf("registry: allocation during a collection cycle")
	}

	stream, err := t.typeReg.Stream(id)
	if err != nil {
		types.Fatalf("registry: allocate: %v", err)
	}

	var data uint32
	if size := stream.BlockSize(); size > 0 {
		data, err = t.slots.Alloc(size)
		if err != nil {
			return types.InvalidIndex, err
		}
		stream.InitBlock(t.slab.Bytes(), data)
	}

	t.mu.Lock()
	var idx types.Index
	if n := len(t.freeList); n > 0 {
		idx = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
	} else {
		if len(t.items) == cap(t.items) {
			t.mu.Unlock()
			if stream.BlockSize() > 0 {
				t.slots.Free(data, stream.BlockSize())
			}
			return types.InvalidIndex, ErrTableFull
		}
		t.items = append(t.items, Item{})
		idx = types.Index(len(t.items) - 1)
	}
	it := &t.items[idx]
	it.reset()
	it.typeID = id
	it.data = data
	it.payload = payload
	it.allocated = true
	t.live++
	t.mu.Unlock()
	return idx, nil
}

// Free releases an object's slot block and container regions and recycles
// its index. Only the destruction pipeline and tests call this; the
// object must not be referenced by any live object.
func (t *Table) Free(idx types.Index) {
	it := t.Item(idx)
	if !it.allocated {
		types.Fatalf("registry: double free of object %d", idx)
	}
	if idx < t.firstGC {
		types.Fatalf("registry: free of permanent object %d", idx)
	}

	stream, err := t.typeReg.Stream(it.typeID)
	if err != nil {
		types.Fatalf("registry: free %d: %v", idx, err)
	}
	if size := stream.BlockSize(); size > 0 {
		slab := t.slab.Bytes()
		stream.WalkRegions(slab, it.data, func(off, rsize uint32) {
			t.slots.Free(off, rsize)
		})
		t.slots.Free(it.data, size)
	}

	t.names.Remove(idx)

	t.mu.Lock()
	it.reset()
	t.freeList = append(t.freeList, idx)
	t.live--
	t.mu.Unlock()
}

// Item returns the registry slot for an index. The pointer stays valid
// until the table is closed. Out-of-range indices are fatal.
func (t *Table) Item(idx types.Index) *Item {
	if int(idx) >= t.Len() {
		types.Fatalf("registry: index %d outside table of %d", idx, t.Len())
	}
	return &t.items[idx]
}

// Len returns the table's high-water mark: every allocated object has an
// index below Len. Free-listed slots below the mark are included.
func (t *Table) Len() int {
	t.mu.Lock()
	n := len(t.items)
	t.mu.Unlock()
	return n
}

// Live returns the number of currently allocated objects.
func (t *Table) Live() int {
	t.mu.Lock()
	n := t.live
	t.mu.Unlock()
	return n
}

// IsValidRef reports whether a reference value denotes a live object.
// The tracer treats a false result for a non-null reference as heap
// corruption.
func (t *Table) IsValidRef(ref types.Index) bool {
	if int(ref) >= t.Len() {
		return false
	}
	return t.items[ref].allocated
}

// SealPermanentPool marks every object allocated so far as permanent:
// the collector never considers them, and references to them are skipped
// by the cheapest possible check. Call once at startup, before the first
// collection.
func (t *Table) SealPermanentPool() {
	if t.collecting.Load() {
		types.Fatalf("registry: sealing permanent pool during a collection cycle")
	}
	t.mu.Lock()
	if len(t.freeList) > 0 {
		t.mu.Unlock()
		types.Fatalf("registry: permanent pool sealed after objects were freed")
	}
	t.firstGC = types.Index(len(t.items))
	t.mu.Unlock()
}

// FirstGCIndex returns the first collectable index. Objects below it are
// permanent.
func (t *Table) FirstGCIndex() types.Index { return t.firstGC }

// SetCollecting flips the collection-in-progress guard that rejects
// allocations while the object graph is frozen.
func (t *Table) SetCollecting(v bool) { t.collecting.Store(v) }

// Collecting reports whether a collection cycle is in progress.
func (t *Table) Collecting() bool { return t.collecting.Load() }

// -----------------------------------------------------------------------------
// Heap API
// -----------------------------------------------------------------------------

// SetRef writes a reference slot at the given byte offset inside obj's
// slot block. Pass types.InvalidIndex to null the slot.
func (t *Table) SetRef(obj types.Index, offset uint32, target types.Index) {
	it := t.Item(obj)
	format.PutRef(t.slab.Bytes(), it.data+offset, target)
}

// Ref reads a reference slot.
func (t *Table) Ref(obj types.Index, offset uint32) types.Index {
	it := t.Item(obj)
	return format.ReadRef(t.slab.Bytes(), it.data+offset)
}

// ResizeContainer (re)allocates a dynamic container to hold count
// elements, all initialized to null references. Existing elements are
// discarded and their regions released. count 0 leaves the container
// empty with no region.
func (t *Table) ResizeContainer(obj types.Index, offset uint32, count uint32) error {
	it := t.Item(obj)
	stream, err := t.typeReg.Stream(it.typeID)
	if err != nil {
		types.Fatalf("registry: resize container on %d: %v", obj, err)
	}
	c, ok := stream.Container(offset)
	if !ok {
		types.Fatalf("registry: type %q has no container at offset %d", stream.Name(), offset)
	}

	slab := t.slab.Bytes()
	hdr := it.data + offset
	if old, oldCount := format.ReadRegionHeader(slab, hdr); old != format.NilRef && oldCount > 0 {
		c.WalkElemRegions(slab, old, oldCount, func(off, size uint32) {
			t.slots.Free(off, size)
		})
		t.slots.Free(old, oldCount*c.Stride)
	}

	if count == 0 {
		format.PutRegionHeader(slab, hdr, format.NilRef, 0)
		return nil
	}
	region, err := t.slots.Alloc(count * c.Stride)
	if err != nil {
		format.PutRegionHeader(slab, hdr, format.NilRef, 0)
		return err
	}
	c.InitElems(slab, region, count)
	format.PutRegionHeader(slab, hdr, region, count)
	return nil
}

// ContainerLen returns the element count of a dynamic container.
func (t *Table) ContainerLen(obj types.Index, offset uint32) uint32 {
	it := t.Item(obj)
	_, count := format.ReadRegionHeader(t.slab.Bytes(), it.data+offset)
	return count
}

// SetElemRef writes a reference inside a dynamic container element:
// element elem, byte offset fieldOff within the element. For plain
// reference arrays fieldOff is 0.
func (t *Table) SetElemRef(obj types.Index, offset uint32, elem uint32, fieldOff uint32, target types.Index) {
	region, stride := t.containerRegion(obj, offset, elem)
	format.PutRef(t.slab.Bytes(), region+elem*stride+fieldOff, target)
}

// ElemRef reads a reference inside a dynamic container element.
func (t *Table) ElemRef(obj types.Index, offset uint32, elem uint32, fieldOff uint32) types.Index {
	region, stride := t.containerRegion(obj, offset, elem)
	return format.ReadRef(t.slab.Bytes(), region+elem*stride+fieldOff)
}

func (t *Table) containerRegion(obj types.Index, offset uint32, elem uint32) (uint32, uint32) {
	it := t.Item(obj)
	stream, err := t.typeReg.Stream(it.typeID)
	if err != nil {
		types.Fatalf("registry: container access on %d: %v", obj, err)
	}
	c, ok := stream.Container(offset)
	if !ok {
		types.Fatalf("registry: type %q has no container at offset %d", stream.Name(), offset)
	}
	region, count := format.ReadRegionHeader(t.slab.Bytes(), it.data+offset)
	if region == format.NilRef || elem >= count {
		types.Fatalf("registry: container element %d out of range (%d) on object %d", elem, count, obj)
	}
	return region, c.Stride
}

// -----------------------------------------------------------------------------
// Flags and names
// -----------------------------------------------------------------------------

// AddToRootSet marks an object always reachable.
func (t *Table) AddToRootSet(idx types.Index) {
	t.Item(idx).SetFlags(types.FlagRootSet)
}

// RemoveFromRootSet removes an object from the root set.
func (t *Table) RemoveFromRootSet(idx types.Index) {
	t.Item(idx).ClearFlags(types.FlagRootSet)
}

// MarkPendingKill schedules an object for destruction: eliminable
// references to it are nulled during the next trace, and it is collected
// regardless of incoming edges unless rooted.
func (t *Table) MarkPendingKill(idx types.Index) {
	t.Item(idx).SetFlags(types.FlagPendingKill)
}

// ClearPendingKill cancels a pending destruction that has not yet been
// acted on by a collection cycle.
func (t *Table) ClearPendingKill(idx types.Index) {
	t.Item(idx).ClearFlags(types.FlagPendingKill)
}

// SetName assigns a debug name used in diagnostics and name lookups.
func (t *Table) SetName(idx types.Index, name string) {
	t.Item(idx) // bounds check
	t.names.Set(idx, name)
}

// Name returns the debug name for an object, or a synthesized
// "Object_<idx>" placeholder when none was assigned.
func (t *Table) Name(idx types.Index) string {
	if int(idx) < t.Len() {
		if name, ok := t.names.Name(idx); ok {
			return name
		}
	}
	return fmt.Sprintf("Object_%d", idx)
}

// FindObjectByName resolves a debug name case-insensitively.
func (t *Table) FindObjectByName(name string) (types.Index, bool) {
	return t.names.Lookup(name)
}

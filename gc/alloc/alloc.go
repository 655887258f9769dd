// Package alloc manages allocation of reference-slot blocks and dynamic
// container regions inside the arena slab.
//
// Allocation uses size classes with per-class free lists: small sizes in
// linear 8-byte increments, larger sizes with logarithmic growth, and a
// best-fit list for anything beyond the class table. Blocks are 8-byte
// aligned so reference slots always land on 4-byte boundaries.
package alloc

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Config defines the size class strategy.
type Config struct {
	// Name for this configuration (for diagnostics).
	Name string

	// Small allocation settings (linear 8-byte aligned increments).
	SmallMin       uint32 // minimum allocation size
	SmallMax       uint32 // max for linear increments
	SmallIncrement uint32 // increment size, multiple of 8

	// Medium allocation settings (logarithmic growth up to MediumMax).
	MediumMax    uint32  // max before the best-fit large list
	GrowthFactor float64 // exponential growth factor
}

// DefaultConfig is tuned for reference-slot blocks: most objects hold a
// handful of 4-byte slots plus the occasional 8-byte container header, so
// the small range is dense and the medium range is short.
var DefaultConfig = Config{
	Name:           "SlotBlocks",
	SmallMin:       8,
	SmallMax:       256,
	SmallIncrement: 8,
	MediumMax:      16384,
	GrowthFactor:   1.5,
}

var (
	// ErrSlabFull indicates the arena slab has no room for the request.
	ErrSlabFull = errors.New("alloc: arena slab exhausted")
	// ErrZeroSize indicates a zero-byte allocation request.
	ErrZeroSize = errors.New("alloc: zero-size allocation")
)

// sizeClassTable holds the computed size class boundaries.
type sizeClassTable struct {
	config  Config
	classes []uint32 // allocation size for each class, ascending
}

// newSizeClassTable computes size classes from config.
func newSizeClassTable(config Config) *sizeClassTable {
	t := &sizeClassTable{config: config}

	// Phase 1: small allocations (linear increments).
	for size := config.SmallMin; size <= config.SmallMax; size += config.SmallIncrement {
		t.classes = append(t.classes, size)
	}

	// Phase 2: medium allocations (logarithmic growth, rounded to 8).
	size := config.SmallMax
	for size < config.MediumMax {
		next := uint32(math.Ceil(float64(size) * config.GrowthFactor))
		next = (next + 7) &^ 7
		if next <= size {
			next = size + 8 // ensure progress
		}
		if next > config.MediumMax {
			next = config.MediumMax
		}
		t.classes = append(t.classes, next)
		size = next
	}
	return t
}

// classFor returns the index of the smallest class that fits size, or
// len(classes) for sizes beyond the table (large list).
func (t *sizeClassTable) classFor(size uint32) int {
	return sort.Search(len(t.classes), func(i int) bool {
		return t.classes[i] >= size
	})
}

// span is a free block on the large list.
type span struct {
	off  uint32
	size uint32
}

// Allocator hands out byte ranges of the arena slab. It never touches the
// block contents; callers initialize slots themselves.
//
// The allocator is safe for concurrent use, though in practice the
// collector only allocates outside of collection cycles and frees from
// the single-threaded purge pass.
type Allocator struct {
	mu    sync.Mutex
	cap   uint32
	next  uint32 // bump cursor
	table *sizeClassTable
	free  [][]uint32 // per-class free offsets
	large []span     // best-fit list for out-of-table sizes
	inUse uint32     // bytes currently allocated (rounded sizes)
}

// New creates an allocator over a slab of the given capacity.
func New(capacity uint32, config Config) *Allocator {
	t := newSizeClassTable(config)
	return &Allocator{
		cap:   capacity,
		table: t,
		free:  make([][]uint32, len(t.classes)),
	}
}

// roundedSize returns the actual block size reserved for a request.
func (a *Allocator) roundedSize(size uint32) uint32 {
	if class := a.table.classFor(size); class < len(a.table.classes) {
		return a.table.classes[class]
	}
	// Large request: round to 8 so subsequent bump allocations stay aligned.
	return (size + 7) &^ 7
}

// Alloc reserves a block of at least size bytes and returns its slab
// offset. The block contents are unspecified; callers must initialize
// every slot before publishing the block.
func (a *Allocator) Alloc(size uint32) (uint32, error) {
	if size == 0 {
		return 0, ErrZeroSize
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	class := a.table.classFor(size)
	if class < len(a.table.classes) {
		if list := a.free[class]; len(list) > 0 {
			off := list[len(list)-1]
			a.free[class] = list[:len(list)-1]
			a.inUse += a.table.classes[class]
			return off, nil
		}
	} else {
		// Best fit from the large list.
		rounded := a.roundedSize(size)
		best := -1
		for i, s := range a.large {
			if s.size >= rounded && (best < 0 || s.size < a.large[best].size) {
				best = i
			}
		}
		if best >= 0 {
			s := a.large[best]
			a.large[best] = a.large[len(a.large)-1]
			a.large = a.large[:len(a.large)-1]
			a.inUse += s.size
			return s.off, nil
		}
	}

	// Fresh block from the bump cursor.
	rounded := a.roundedSize(size)
	if a.cap-a.next < rounded {
		return 0, fmt.Errorf("%w (need %d, %d left)", ErrSlabFull, rounded, a.cap-a.next)
	}
	off := a.next
	a.next += rounded
	a.inUse += rounded
	return off, nil
}

// Free returns a block to the allocator. size must be the size originally
// requested (or anything that rounds to the same class).
func (a *Allocator) Free(off uint32, size uint32) {
	if size == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rounded := a.roundedSize(size)
	a.inUse -= rounded
	if class := a.table.classFor(size); class < len(a.table.classes) {
		a.free[class] = append(a.free[class], off)
		return
	}
	a.large = append(a.large, span{off: off, size: rounded})
}

// InUse returns the number of slab bytes currently allocated.
func (a *Allocator) InUse() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// String returns the configuration name.
func (a *Allocator) String() string { return a.table.config.Name }

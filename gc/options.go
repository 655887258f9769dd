package gc

import (
	"log/slog"
	"time"

	"github.com/joshuapare/gckit/gc/alloc"
	"github.com/joshuapare/gckit/gc/purge"
	"github.com/joshuapare/gckit/gc/trace"
	"github.com/joshuapare/gckit/internal/arena"
	"github.com/joshuapare/gckit/pkg/types"
)

// DefaultNumRetriesBeforeForcingGC bounds how often TryCollectGarbage may
// skip before escalating to a blocking collection.
const DefaultNumRetriesBeforeForcingGC = 10

// Options configures a Collector.
type Options struct {
	// MaxObjects caps the number of simultaneously live objects.
	MaxObjects uint32
	// ArenaCapacity is the reference-slot slab size in bytes.
	ArenaCapacity uint32
	// SlotClasses configures the slot-block allocator.
	SlotClasses alloc.Config

	// AllowParallel enables worker goroutines for mark, trace and gather.
	AllowParallel bool
	// MinObjectsPerSubTask is the smallest unit of parallel work.
	MinObjectsPerSubTask int

	// NumRetriesBeforeForcingGC is the number of consecutive
	// TryCollectGarbage skips tolerated before a blocking collection is
	// forced. Zero means DefaultNumRetriesBeforeForcingGC.
	NumRetriesBeforeForcingGC int

	// IncrementalBeginDestroy leaves the unhash pass to incremental purge
	// ticks instead of running it synchronously at the end of a
	// non-full-purge collection.
	IncrementalBeginDestroy bool

	// CheckEliminatedReferences enables the pending-kill elimination
	// diagnostics (the OnReferenceEliminated callback). Elimination
	// itself always happens; this only gates the notification.
	CheckEliminatedReferences bool
	// OnReferenceEliminated is called when a pending-kill edge is nulled
	// during trace. Invoked from worker goroutines.
	OnReferenceEliminated func(referrer, referent types.Index)

	// VerifyClusters runs the cluster invariant check before every cycle.
	VerifyClusters bool

	// StallWarnAfter bounds zero-progress waiting in the destruction
	// pipeline before a diagnostic fires; StallFatal escalates it to a
	// fatal stop (resource-constrained hosts).
	StallWarnAfter time.Duration
	StallFatal     bool

	// OnPreCollect and OnPostCollect run at the start and end of every
	// collection cycle, inside the collection lock.
	OnPreCollect  func()
	OnPostCollect func()

	// OnPreUnhash and OnPostUnhash bracket the begin-teardown pass of
	// each destruction cycle.
	OnPreUnhash  func()
	OnPostUnhash func()

	// Logger receives phase timings and purge counts. Nil discards.
	Logger *slog.Logger
}

// DefaultOptions returns the desktop defaults: parallel tracing, strict
// elimination diagnostics, non-fatal stall handling.
func DefaultOptions() Options {
	return Options{
		MaxObjects:                1 << 20,
		ArenaCapacity:             arena.DefaultCapacity,
		SlotClasses:               alloc.DefaultConfig,
		AllowParallel:             true,
		MinObjectsPerSubTask:      trace.DefaultMinObjectsPerSubTask,
		NumRetriesBeforeForcingGC: DefaultNumRetriesBeforeForcingGC,
		CheckEliminatedReferences: true,
		StallWarnAfter:            purge.DefaultStallWarnAfter,
	}
}

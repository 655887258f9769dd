// Package gc ties the collector together: the object registry, cluster
// table, tracer and destruction pipeline, sequenced under one exclusive
// collection lock.
//
// The Collector is the single entry point for hosts: allocate objects
// through its registry, group them into clusters, then call
// CollectGarbage (blocking) or TryCollectGarbage (skippable) from a
// quiesced point in the host's frame. Destruction can run synchronously
// (fullPurge) or be spread over later IncrementalPurge ticks.
package gc

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshuapare/gckit/gc/cluster"
	"github.com/joshuapare/gckit/gc/layout"
	"github.com/joshuapare/gckit/gc/purge"
	"github.com/joshuapare/gckit/gc/registry"
	"github.com/joshuapare/gckit/gc/trace"
	"github.com/joshuapare/gckit/gc/verify"
	"github.com/joshuapare/gckit/pkg/types"
)

// Collector owns all mutable collector state: the lock, the pipeline and
// its cursors, and the retry counter. One Collector per managed heap,
// created at startup and closed at shutdown.
type Collector struct {
	opts     Options
	log      *slog.Logger
	objects  *registry.Table
	clusters *cluster.Table
	tracer   *trace.Tracer
	pipeline *purge.Pipeline

	gcLock sync.Mutex
	skips  atomic.Int32
}

// New creates a collector over a fresh object registry using the given
// type layouts.
func New(typeReg *layout.Registry, opts Options) (*Collector, error) {
	opts = mergeDefaults(opts)
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	objects, err := registry.New(typeReg, registry.Config{
		MaxObjects:    opts.MaxObjects,
		ArenaCapacity: opts.ArenaCapacity,
		Slots:         opts.SlotClasses,
	})
	if err != nil {
		return nil, err
	}
	clusters := cluster.NewTable(objects)

	var onEliminated func(referrer, referent types.Index)
	if opts.CheckEliminatedReferences {
		onEliminated = opts.OnReferenceEliminated
	}
	tracer := trace.New(objects, clusters, trace.Config{
		Parallel:              opts.AllowParallel,
		MinObjectsPerSubTask:  opts.MinObjectsPerSubTask,
		OnReferenceEliminated: onEliminated,
	})
	pipeline := purge.New(objects, purge.Config{
		StallWarnAfter: opts.StallWarnAfter,
		StallFatal:     opts.StallFatal,
		OnPreUnhash:    opts.OnPreUnhash,
		OnPostUnhash:   opts.OnPostUnhash,
		Logger:         log,
	})

	return &Collector{
		opts:     opts,
		log:      log,
		objects:  objects,
		clusters: clusters,
		tracer:   tracer,
		pipeline: pipeline,
	}, nil
}

// mergeDefaults fills zero-valued sizing fields from DefaultOptions so a
// partially filled Options literal stays usable.
func mergeDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.MaxObjects == 0 {
		opts.MaxObjects = def.MaxObjects
	}
	if opts.ArenaCapacity == 0 {
		opts.ArenaCapacity = def.ArenaCapacity
	}
	if opts.SlotClasses.Name == "" {
		opts.SlotClasses = def.SlotClasses
	}
	return opts
}

// Close releases the arena. Pending destruction work is abandoned; call
// CollectGarbage with fullPurge first for an orderly shutdown.
func (c *Collector) Close() error {
	return c.objects.Close()
}

// Objects returns the object registry (allocation, heap writes, roots).
func (c *Collector) Objects() *registry.Table { return c.objects }

// Clusters returns the cluster table.
func (c *Collector) Clusters() *cluster.Table { return c.clusters }

// CollectGarbage runs a full collection cycle, blocking until the lock
// is available. keep extends the root set by keep-flag mask; fullPurge
// drives destruction to completion before returning instead of leaving
// it for incremental ticks.
//
// Callers must have quiesced all mutation of the managed graph for the
// duration of the call.
func (c *Collector) CollectGarbage(keep types.KeepFlags, fullPurge bool) {
	c.gcLock.Lock()
	defer c.gcLock.Unlock()
	c.collect(keep, fullPurge)
}

// TryCollectGarbage runs a cycle only if the collection lock is free.
// Skips are counted; after NumRetriesBeforeForcingGC consecutive skips
// the next call escalates to a blocking collection so a contended lock
// cannot starve collection forever. Reports whether a cycle ran.
func (c *Collector) TryCollectGarbage(keep types.KeepFlags, fullPurge bool) bool {
	if !c.gcLock.TryLock() {
		retries := int(c.skips.Add(1))
		limit := c.opts.NumRetriesBeforeForcingGC
		if limit <= 0 {
			limit = DefaultNumRetriesBeforeForcingGC
		}
		if retries < limit {
			return false
		}
		c.log.Info("forcing blocking collection", "skipped", retries)
		c.gcLock.Lock()
	}
	defer c.gcLock.Unlock()
	c.collect(keep, fullPurge)
	return true
}

// collect runs one cycle with the lock held.
func (c *Collector) collect(keep types.KeepFlags, fullPurge bool) {
	c.skips.Store(0)
	c.objects.SetCollecting(true)
	defer c.objects.SetCollecting(false)

	if c.opts.OnPreCollect != nil {
		c.opts.OnPreCollect()
	}

	// Never overlap two destruction cycles: finish the previous one
	// before a new mark phase may run.
	if !c.pipeline.IsIdle() {
		c.pipeline.Tick(0)
	}

	if c.opts.VerifyClusters {
		if err := verify.Clusters(c.objects, c.clusters); err != nil {
			types.Fatalf("gc: cluster verification failed: %v", err)
		}
	}

	start := time.Now()
	frontier := c.tracer.Mark(keep)
	markDone := time.Now()
	c.tracer.Trace(frontier)
	traceDone := time.Now()

	c.clusters.DissolveFlagged()
	c.dissolveDeadRootClusters()

	doomed := c.gatherUnreachable()
	gatherDone := time.Now()

	c.log.Debug("reachability analysis complete",
		"roots", len(frontier),
		"unreachable", len(doomed),
		"mark", markDone.Sub(start),
		"trace", traceDone.Sub(markDone),
		"gather", gatherDone.Sub(traceDone))

	c.pipeline.Begin(doomed)
	if fullPurge {
		c.pipeline.Tick(0)
	} else if !c.opts.IncrementalBeginDestroy {
		c.pipeline.UnhashNow()
	}

	if c.opts.OnPostCollect != nil {
		c.opts.OnPostCollect()
	}
}

// dissolveDeadRootClusters tears down every cluster whose root ended the
// cycle unreachable, marking the members unreachable with it so the
// gather pass picks up the whole cluster.
func (c *Collector) dissolveDeadRootClusters() {
	var dead []types.ClusterID
	c.clusters.ForEach(func(id types.ClusterID, cl *cluster.Cluster) {
		if c.objects.Item(cl.RootIndex).IsUnreachable() {
			dead = append(dead, id)
		}
	})
	for _, id := range dead {
		c.clusters.Dissolve(id)
	}
}

// gatherUnreachable scans the collectable index range and collects every
// object still flagged Unreachable, partitioned across workers the same
// way the mark phase is.
func (c *Collector) gatherUnreachable() []types.Index {
	first := int(c.objects.FirstGCIndex())
	total := c.objects.Len() - first

	minPer := c.opts.MinObjectsPerSubTask
	if minPer <= 0 {
		minPer = trace.DefaultMinObjectsPerSubTask
	}
	if !c.opts.AllowParallel || total < 2*minPer {
		return c.gatherRange(first, first+total, nil)
	}

	workers := total / minPer
	if gomax := runtime.GOMAXPROCS(0); workers > gomax {
		workers = gomax
	}
	span := (total + workers - 1) / workers
	bufs := make([][]types.Index, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := first + w*span
		hi := lo + span
		if hi > first+total {
			hi = first + total
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			bufs[w] = c.gatherRange(lo, hi, nil)
		}(w, lo, hi)
	}
	wg.Wait()

	var doomed []types.Index
	for _, buf := range bufs {
		doomed = append(doomed, buf...)
	}
	return doomed
}

func (c *Collector) gatherRange(lo, hi int, out []types.Index) []types.Index {
	for i := lo; i < hi; i++ {
		it := c.objects.Item(types.Index(i))
		if it.IsAllocated() && it.IsUnreachable() {
			out = append(out, types.Index(i))
		}
	}
	return out
}

// IncrementalPurge drives pending destruction under a time budget and
// reports whether the pipeline reached Idle. limit <= 0 runs unbounded.
// Intended to be called from the host's tick between collections.
func (c *Collector) IncrementalPurge(limit time.Duration) bool {
	c.gcLock.Lock()
	defer c.gcLock.Unlock()
	if c.pipeline.IsIdle() {
		return true
	}
	// Unlike a collection cycle, purge ticks coexist with allocation:
	// the registry is mutex-guarded and recycled slots come back with
	// clean flags, so the resumable cursors skip them.
	return c.pipeline.Tick(limit)
}

// IsIncrementalPurgePending reports whether a previous collection still
// has destruction work outstanding.
func (c *Collector) IsIncrementalPurgePending() bool {
	c.gcLock.Lock()
	defer c.gcLock.Unlock()
	return !c.pipeline.IsIdle()
}

// Package trace implements the reachability tracer: the mark phase that
// classifies every object, and the frontier walk that interprets
// reference layout streams to clear Unreachable on everything a root can
// reach.
//
// Both phases are data-parallel fork-join: the index range (mark) or the
// current frontier batch (trace) is partitioned across workers, each
// worker pushes results into its own buffer, and buffers are merged after
// the join barrier. A single-threaded path produces identical final
// reachability, only discovery order differs.
package trace

import (
	"runtime"
	"sync"

	"github.com/joshuapare/gckit/gc/cluster"
	"github.com/joshuapare/gckit/gc/registry"
	"github.com/joshuapare/gckit/pkg/types"
)

// DefaultMinObjectsPerSubTask is the smallest partition worth handing to
// a worker goroutine.
const DefaultMinObjectsPerSubTask = 128

// Config tunes a Tracer.
type Config struct {
	// Parallel enables worker goroutines. When false every phase runs on
	// the calling goroutine.
	Parallel bool
	// MinObjectsPerSubTask is the smallest unit of parallel work. Zero
	// means DefaultMinObjectsPerSubTask.
	MinObjectsPerSubTask int
	// OnReferenceEliminated, if set, is called whenever a pending-kill
	// edge is nulled. Invoked from worker goroutines; must be safe for
	// concurrent use.
	OnReferenceEliminated func(referrer, referent types.Index)
}

// Tracer runs reachability analysis over an object registry and its
// cluster table.
type Tracer struct {
	objects  *registry.Table
	clusters *cluster.Table
	cfg      Config
}

// New creates a tracer.
func New(objects *registry.Table, clusters *cluster.Table, cfg Config) *Tracer {
	if cfg.MinObjectsPerSubTask <= 0 {
		cfg.MinObjectsPerSubTask = DefaultMinObjectsPerSubTask
	}
	return &Tracer{objects: objects, clusters: clusters, cfg: cfg}
}

// markBuffers collects one mark worker's results.
type markBuffers struct {
	frontier    []types.Index
	dissolve    []types.ClusterID // pending-kill cluster roots
	keepRoots   []types.ClusterID // kept cluster roots, propagated post-join
	keepMembers []types.Index     // kept cluster members, resolved post-join
}

// Mark classifies every collectable object and returns the initial
// frontier. Objects with no keep reason are flagged Unreachable;
// pending-kill cluster roots are dissolved with their members marked
// unreachable; kept cluster roots and members propagate reachability
// through the cluster graph before the frontier is returned.
func (tr *Tracer) Mark(keep types.KeepFlags) []types.Index {
	first := int(tr.objects.FirstGCIndex())
	total := tr.objects.Len() - first

	var merged markBuffers
	if workers := tr.workersFor(total); workers > 1 {
		span := (total + workers - 1) / workers
		bufs := make([]markBuffers, workers)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			lo := first + w*span
			hi := lo + span
			if hi > first+total {
				hi = first + total
			}
			wg.Add(1)
			go func(buf *markBuffers, lo, hi int) {
				defer wg.Done()
				tr.markRange(keep, lo, hi, buf)
			}(&bufs[w], lo, hi)
		}
		wg.Wait()
		for i := range bufs {
			merged.frontier = append(merged.frontier, bufs[i].frontier...)
			merged.dissolve = append(merged.dissolve, bufs[i].dissolve...)
			merged.keepRoots = append(merged.keepRoots, bufs[i].keepRoots...)
			merged.keepMembers = append(merged.keepMembers, bufs[i].keepMembers...)
		}
	} else {
		tr.markRange(keep, first, first+total, &merged)
	}

	// Pending-kill cluster roots go down now, taking their members with
	// them (the root is already flagged Unreachable).
	for _, id := range merged.dissolve {
		tr.clusters.Dissolve(id)
	}

	visit := func(idx types.Index) {
		merged.frontier = append(merged.frontier, idx)
	}
	for _, id := range merged.keepRoots {
		tr.clusters.MarkReferencedClustersAsReachable(id, visit)
	}
	for _, member := range merged.keepMembers {
		it := tr.objects.Item(member)
		owner := it.OwnerIndex()
		if owner == types.InvalidIndex {
			// The owning cluster was dissolved above; the kept member is
			// standalone now and survives on its own.
			if it.ClearUnreachableAtomic() {
				merged.frontier = append(merged.frontier, member)
			}
			continue
		}
		if it.SetReachableInClusterAtomic() {
			root := tr.objects.Item(owner)
			if root.ClearUnreachableAtomic() && root.IsClusterRoot() {
				tr.clusters.MarkReferencedClustersAsReachable(root.ClusterIndex(), visit)
			}
		}
	}
	return merged.frontier
}

// markRange classifies objects in [lo, hi).
func (tr *Tracer) markRange(keep types.KeepFlags, lo, hi int, buf *markBuffers) {
	for i := lo; i < hi; i++ {
		idx := types.Index(i)
		it := tr.objects.Item(idx)
		if !it.IsAllocated() {
			continue
		}

		flags := it.Flags()
		kept := flags.Has(types.FlagRootSet|types.FlagKeepAlive) ||
			(keep != types.KeepNone && it.KeepFlags()&keep != 0)

		if it.OwnerIndex() != types.InvalidIndex {
			// Cluster member: the root decides its fate. Reset the
			// per-cycle visit bit; a kept member still pins its cluster.
			it.ClearFlags(types.FlagUnreachable | types.FlagReachableInCluster)
			if kept && !flags.Has(types.FlagPendingKill) {
				buf.keepMembers = append(buf.keepMembers, idx)
			}
			continue
		}

		if flags.Has(types.FlagClusterRoot) && flags.Has(types.FlagPendingKill) {
			it.SetFlags(types.FlagUnreachable)
			it.ClearFlags(types.FlagReachableInCluster)
			buf.dissolve = append(buf.dissolve, it.ClusterIndex())
			continue
		}

		if kept && !flags.Has(types.FlagPendingKill) {
			it.ClearFlags(types.FlagUnreachable | types.FlagReachableInCluster)
			buf.frontier = append(buf.frontier, idx)
			if flags.Has(types.FlagClusterRoot) {
				buf.keepRoots = append(buf.keepRoots, it.ClusterIndex())
			}
			continue
		}

		it.SetFlags(types.FlagUnreachable)
		it.ClearFlags(types.FlagReachableInCluster)
	}
}

// Trace exhausts the frontier, interpreting each object's layout stream
// and enqueuing every newly reachable object until a fixed point.
func (tr *Tracer) Trace(frontier []types.Index) {
	for len(frontier) > 0 {
		batch := frontier
		frontier = nil

		workers := tr.workersFor(len(batch))
		if workers <= 1 {
			out := frontier
			for _, idx := range batch {
				tr.traceObject(idx, &out)
			}
			frontier = out
			continue
		}

		span := (len(batch) + workers - 1) / workers
		outs := make([][]types.Index, workers)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			lo := w * span
			hi := lo + span
			if hi > len(batch) {
				hi = len(batch)
			}
			wg.Add(1)
			go func(w, lo, hi int) {
				defer wg.Done()
				for _, idx := range batch[lo:hi] {
					tr.traceObject(idx, &outs[w])
				}
			}(w, lo, hi)
		}
		wg.Wait()
		for _, out := range outs {
			frontier = append(frontier, out...)
		}
	}
}

// workersFor returns how many workers a unit of n objects deserves.
func (tr *Tracer) workersFor(n int) int {
	if !tr.cfg.Parallel || n < 2*tr.cfg.MinObjectsPerSubTask {
		return 1
	}
	workers := runtime.GOMAXPROCS(0)
	if limit := n / tr.cfg.MinObjectsPerSubTask; workers > limit {
		workers = limit
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

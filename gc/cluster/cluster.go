// Package cluster groups objects whose lifetimes are tied to a single
// root so the tracer can decide their liveness collectively.
//
// A cluster is all-or-nothing: either the root is reachable and every
// member survives, or the root dies and the whole cluster is torn down.
// Partial death is not representable; anything that would create it
// (a pending-kill mutable reference, a dying root) flags the cluster for
// dissolution, which demotes every member back to a standalone object.
// Dissolution runs in dedicated single-threaded passes, never while
// tracer workers may hold cluster indices.
package cluster

import (
	"sync"
	"sync/atomic"

	"github.com/joshuapare/gckit/gc/registry"
	"github.com/joshuapare/gckit/pkg/types"
)

// Cluster is one optimization unit. Objects holds the owned members,
// destroyed atomically with the root. MutableObjects are references the
// cluster holds to objects it does not own; they can die independently
// and are re-validated every cycle. ReferencedClusters are edges to other
// cluster roots.
type Cluster struct {
	RootIndex          types.Index
	Objects            []types.Index
	MutableObjects     []types.Index
	ReferencedClusters []types.ClusterID

	// needsDissolving is set during trace when a pending-kill mutable
	// reference is discovered. Written by at most one tracer worker (the
	// one that won the root's reachability transition), read after the
	// trace barrier.
	needsDissolving bool
}

// Table owns every cluster and the registry linkage that binds members
// to their roots.
type Table struct {
	objects *registry.Table

	mu       sync.Mutex
	clusters []*Cluster // slot = ClusterID, nil when free
	freeList []types.ClusterID

	needDissolving atomic.Bool
}

// NewTable creates an empty cluster table over an object registry.
func NewTable(objects *registry.Table) *Table {
	return &Table{objects: objects}
}

// Create promotes an object to a cluster root and returns the new
// cluster's ID. The object must be standalone.
func (t *Table) Create(root types.Index) types.ClusterID {
	it := t.objects.Item(root)
	if !it.IsAllocated() {
		types.Fatalf("cluster: root %d is not allocated", root)
	}
	if it.IsClusterRoot() || it.OwnerIndex() != types.InvalidIndex {
		types.Fatalf("cluster: object %d already belongs to a cluster", root)
	}

	t.mu.Lock()
	var id types.ClusterID
	if n := len(t.freeList); n > 0 {
		id = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.clusters[id] = &Cluster{RootIndex: root}
	} else {
		id = types.ClusterID(len(t.clusters))
		t.clusters = append(t.clusters, &Cluster{RootIndex: root})
	}
	t.mu.Unlock()

	it.SetClusterIndex(id)
	it.SetFlags(types.FlagClusterRoot)
	return id
}

// Cluster returns the cluster for an ID. Fatal on a stale ID.
func (t *Table) Cluster(id types.ClusterID) *Cluster {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clusterLocked(id)
}

func (t *Table) clusterLocked(id types.ClusterID) *Cluster {
	if id < 0 || int(id) >= len(t.clusters) || t.clusters[id] == nil {
		types.Fatalf("cluster: invalid cluster id %d", id)
	}
	return t.clusters[id]
}

// Len returns the number of live clusters.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clusters) - len(t.freeList)
}

// AddMember moves a standalone object into a cluster. The member's fate
// is decided by the root from now on.
func (t *Table) AddMember(id types.ClusterID, member types.Index) {
	c := t.Cluster(id)
	it := t.objects.Item(member)
	if !it.IsAllocated() {
		types.Fatalf("cluster: member %d is not allocated", member)
	}
	if it.IsClusterRoot() || it.OwnerIndex() != types.InvalidIndex {
		types.Fatalf("cluster: object %d already belongs to a cluster", member)
	}
	it.SetOwnerIndex(c.RootIndex)
	c.Objects = append(c.Objects, member)
}

// AddMutableReference records a reference from the cluster to an object
// it does not own. Mutable references are re-validated every cycle.
func (t *Table) AddMutableReference(id types.ClusterID, ref types.Index) {
	c := t.Cluster(id)
	c.MutableObjects = append(c.MutableObjects, ref)
}

// AddReferencedCluster records an edge to another cluster root.
func (t *Table) AddReferencedCluster(id, target types.ClusterID) {
	if id == target {
		return
	}
	c := t.Cluster(id)
	for _, existing := range c.ReferencedClusters {
		if existing == target {
			return
		}
	}
	c.ReferencedClusters = append(c.ReferencedClusters, target)
}

// ClustersNeedDissolving reports whether any cluster was flagged for
// dissolution during the current cycle.
func (t *Table) ClustersNeedDissolving() bool {
	return t.needDissolving.Load()
}

// MarkReferencedClustersAsReachable propagates reachability from a
// cluster root that just became reachable. Referenced cluster roots are
// cleared recursively; mutable references are cleared individually and
// handed to visit for frontier enqueuing. A pending-kill mutable
// reference is nulled out of the list and flags the cluster for
// dissolution.
//
// Called from tracer workers. The per-cluster walk runs at most once per
// cycle because only the worker that wins the root's Unreachable
// transition (or the mark phase, for kept roots) gets here.
func (t *Table) MarkReferencedClustersAsReachable(id types.ClusterID, visit func(types.Index)) {
	c := t.Cluster(id)

	for _, target := range c.ReferencedClusters {
		tc := t.Cluster(target)
		root := t.objects.Item(tc.RootIndex)
		if root.ClearUnreachableAtomic() {
			t.MarkReferencedClustersAsReachable(target, visit)
		}
	}

	for i, ref := range c.MutableObjects {
		if ref == types.InvalidIndex {
			continue
		}
		it := t.objects.Item(ref)
		if it.IsPendingKill() {
			// The target is going away; the cluster cannot partially
			// survive it.
			c.MutableObjects[i] = types.InvalidIndex
			c.needsDissolving = true
			t.needDissolving.Store(true)
			continue
		}
		if owner := it.OwnerIndex(); owner != types.InvalidIndex {
			// Member of another cluster: mark it visited and make sure
			// its root survives the cycle.
			if it.SetReachableInClusterAtomic() {
				rootItem := t.objects.Item(owner)
				if rootItem.ClearUnreachableAtomic() && rootItem.IsClusterRoot() {
					t.MarkReferencedClustersAsReachable(rootItem.ClusterIndex(), visit)
				}
			}
			continue
		}
		if it.ClearUnreachableAtomic() {
			if it.IsClusterRoot() {
				t.MarkReferencedClustersAsReachable(it.ClusterIndex(), visit)
			} else {
				visit(ref)
			}
		}
	}
}

// Dissolve demotes every member of a cluster to a standalone object and
// releases the cluster slot. If the root is unreachable, members are
// marked unreachable too so they proceed through normal destruction.
// Single-threaded: callers run this between trace barriers.
func (t *Table) Dissolve(id types.ClusterID) {
	t.mu.Lock()
	c := t.clusterLocked(id)
	t.clusters[id] = nil
	t.freeList = append(t.freeList, id)
	t.mu.Unlock()

	root := t.objects.Item(c.RootIndex)
	rootDead := root.IsUnreachable()
	root.ClearFlags(types.FlagClusterRoot)
	root.SetClusterIndex(types.InvalidCluster)

	for _, member := range c.Objects {
		it := t.objects.Item(member)
		if !it.IsAllocated() || it.OwnerIndex() != c.RootIndex {
			continue
		}
		it.SetOwnerIndex(types.InvalidIndex)
		if rootDead {
			it.SetFlags(types.FlagUnreachable)
		}
	}

	// Drop stale edges other clusters hold to this one.
	t.mu.Lock()
	for _, other := range t.clusters {
		if other == nil {
			continue
		}
		for i, rc := range other.ReferencedClusters {
			if rc == id {
				other.ReferencedClusters[i] = other.ReferencedClusters[len(other.ReferencedClusters)-1]
				other.ReferencedClusters = other.ReferencedClusters[:len(other.ReferencedClusters)-1]
				break
			}
		}
	}
	t.mu.Unlock()
}

// DissolveFlagged tears down every cluster flagged during trace. Runs
// after the trace barrier, then resets the table-wide flag.
func (t *Table) DissolveFlagged() {
	if !t.needDissolving.Load() {
		return
	}
	t.mu.Lock()
	var flagged []types.ClusterID
	for id, c := range t.clusters {
		if c != nil && c.needsDissolving {
			flagged = append(flagged, types.ClusterID(id))
		}
	}
	t.mu.Unlock()

	for _, id := range flagged {
		t.Dissolve(id)
	}
	t.needDissolving.Store(false)
}

// ForEach visits every live cluster. Used by the gather pass and the
// verifier. Must not be called while tracer workers are running.
func (t *Table) ForEach(fn func(id types.ClusterID, c *Cluster)) {
	t.mu.Lock()
	snapshot := make([]*Cluster, len(t.clusters))
	copy(snapshot, t.clusters)
	t.mu.Unlock()

	for id, c := range snapshot {
		if c != nil {
			fn(types.ClusterID(id), c)
		}
	}
}

package registry

import (
	"sync/atomic"

	"github.com/joshuapare/gckit/pkg/types"
)

// Item is one slot of the object state registry. The flag word is the
// only field written concurrently (by tracer workers); everything else
// is written while the object is being created or destroyed, or from
// single-threaded collector passes.
type Item struct {
	flags     uint32       // types.Flags bits, accessed atomically
	keep      uint32       // types.KeepFlags, caller-owned markers
	owner     types.Index  // cluster root index, InvalidIndex when standalone
	cluster   types.ClusterID // valid only while FlagClusterRoot is set
	typeID    types.TypeID
	data      uint32 // slot block offset in the slab
	payload   types.Payload
	allocated bool
}

// Flags returns the current flag word.
func (it *Item) Flags() types.Flags {
	return types.Flags(atomic.LoadUint32(&it.flags))
}

// HasAnyFlags reports whether any of the given bits are set.
func (it *Item) HasAnyFlags(bits types.Flags) bool {
	return it.Flags().Has(bits)
}

// SetFlags sets the given bits.
func (it *Item) SetFlags(bits types.Flags) {
	atomic.OrUint32(&it.flags, uint32(bits))
}

// ClearFlags clears the given bits.
func (it *Item) ClearFlags(bits types.Flags) {
	atomic.AndUint32(&it.flags, ^uint32(bits))
}

// ClearUnreachableAtomic clears the Unreachable bit and reports whether
// this caller performed the transition. Exactly one of the racing tracer
// workers wins and takes responsibility for enqueuing the object.
func (it *Item) ClearUnreachableAtomic() bool {
	for {
		old := atomic.LoadUint32(&it.flags)
		if old&uint32(types.FlagUnreachable) == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&it.flags, old, old&^uint32(types.FlagUnreachable)) {
			return true
		}
	}
}

// SetReachableInClusterAtomic sets the ReachableInCluster bit and reports
// whether this caller performed the transition.
func (it *Item) SetReachableInClusterAtomic() bool {
	for {
		old := atomic.LoadUint32(&it.flags)
		if old&uint32(types.FlagReachableInCluster) != 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&it.flags, old, old|uint32(types.FlagReachableInCluster)) {
			return true
		}
	}
}

// IsUnreachable reports whether the object has not been proven reachable
// this cycle.
func (it *Item) IsUnreachable() bool { return it.HasAnyFlags(types.FlagUnreachable) }

// IsPendingKill reports whether the object is scheduled for destruction.
func (it *Item) IsPendingKill() bool { return it.HasAnyFlags(types.FlagPendingKill) }

// IsRootSet reports whether the object is in the root set.
func (it *Item) IsRootSet() bool { return it.HasAnyFlags(types.FlagRootSet) }

// IsClusterRoot reports whether the object owns a cluster.
func (it *Item) IsClusterRoot() bool { return it.HasAnyFlags(types.FlagClusterRoot) }

// IsAllocated reports whether the slot currently holds a live object.
func (it *Item) IsAllocated() bool { return it.allocated }

// KeepFlags returns the caller-owned keep markers.
func (it *Item) KeepFlags() types.KeepFlags {
	return types.KeepFlags(atomic.LoadUint32(&it.keep))
}

// SetKeepFlags sets caller-owned keep markers.
func (it *Item) SetKeepFlags(k types.KeepFlags) {
	atomic.OrUint32(&it.keep, uint32(k))
}

// ClearKeepFlags clears caller-owned keep markers.
func (it *Item) ClearKeepFlags(k types.KeepFlags) {
	atomic.AndUint32(&it.keep, ^uint32(k))
}

// OwnerIndex returns the owning cluster root, or InvalidIndex for a
// standalone object (including cluster roots themselves).
func (it *Item) OwnerIndex() types.Index { return it.owner }

// SetOwnerIndex links the object to (or unlinks it from) a cluster root.
func (it *Item) SetOwnerIndex(owner types.Index) { it.owner = owner }

// ClusterIndex returns the cluster slot owned by this object. Only
// meaningful while FlagClusterRoot is set.
func (it *Item) ClusterIndex() types.ClusterID { return it.cluster }

// SetClusterIndex records the cluster slot owned by this object.
func (it *Item) SetClusterIndex(c types.ClusterID) { it.cluster = c }

// TypeID returns the object's registered type.
func (it *Item) TypeID() types.TypeID { return it.typeID }

// DataOffset returns the slab offset of the object's slot block.
func (it *Item) DataOffset() uint32 { return it.data }

// Payload returns the teardown payload registered for the object. May be
// nil, in which case the destruction pipeline frees the object directly.
func (it *Item) Payload() types.Payload { return it.payload }

// reset returns the slot to its unallocated state.
func (it *Item) reset() {
	atomic.StoreUint32(&it.flags, 0)
	atomic.StoreUint32(&it.keep, 0)
	it.owner = types.InvalidIndex
	it.cluster = types.InvalidCluster
	it.typeID = types.InvalidType
	it.data = 0
	it.payload = nil
	it.allocated = false
}

package types

import "fmt"

// -----------------------------------------------------------------------------
// Core Identifiers
// -----------------------------------------------------------------------------

// Index is a dense object index into the object state registry. An index is
// stable for the lifetime of the object; the slot (and index) is recycled
// only after the destruction pipeline has freed the object.
type Index = uint32

// InvalidIndex is the null object reference.
const InvalidIndex Index = 0xFFFFFFFF

// TypeID identifies a registered object type. Every type owns exactly one
// reference layout descriptor, built once and shared read-only.
type TypeID uint32

// InvalidType is the zero value of an unregistered type.
const InvalidType TypeID = 0

// ClusterID identifies a cluster slot in the cluster table.
type ClusterID = int32

// InvalidCluster marks an object that is not a cluster root.
const InvalidCluster ClusterID = -1

// -----------------------------------------------------------------------------
// Flags
// -----------------------------------------------------------------------------

// Flags is the per-object internal flag word mutated by the collector.
// All bits live in a single uint32 so the parallel tracer can linearize
// per-object updates with compare-and-swap.
type Flags uint32

const (
	// FlagUnreachable marks an object not (yet) proven reachable this cycle.
	FlagUnreachable Flags = 1 << iota
	// FlagPendingKill marks an object scheduled for destruction; eliminable
	// references to it are nulled during trace.
	FlagPendingKill
	// FlagRootSet marks an object that is always treated as reachable.
	FlagRootSet
	// FlagClusterRoot marks an object that owns a cluster.
	FlagClusterRoot
	// FlagReachableInCluster marks a cluster member already visited this cycle.
	FlagReachableInCluster
	// FlagKeepAlive pins an object independently of the root set.
	FlagKeepAlive
	// FlagHadReferenceKilled records that a reference held by this object was
	// silently nulled because its target was pending kill.
	FlagHadReferenceKilled
	// FlagTeardownStarted records that BeginTeardown has been routed.
	FlagTeardownStarted
	// FlagTeardownFinished records that FinishTeardown has been routed; only
	// then may the object be physically freed.
	FlagTeardownFinished
)

// flagNames is ordered by bit position.
var flagNames = []string{
	"Unreachable",
	"PendingKill",
	"RootSet",
	"ClusterRoot",
	"ReachableInCluster",
	"KeepAlive",
	"HadReferenceKilled",
	"TeardownStarted",
	"TeardownFinished",
}

// Has reports whether any of the given bits are set.
func (f Flags) Has(bits Flags) bool { return f&bits != 0 }

// String renders the set bits for diagnostics.
func (f Flags) String() string {
	if f == 0 {
		return "None"
	}
	s := ""
	for i, name := range flagNames {
		if f&(1<<uint(i)) != 0 {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	if rest := f >> uint(len(flagNames)); rest != 0 {
		s += fmt.Sprintf("|0x%x", uint32(rest)<<uint(len(flagNames)))
	}
	return s
}

// KeepFlags is a caller-owned bitmask of "always reachable" markers. The
// collector never interprets individual bits: an object survives the mark
// phase when its keep word intersects the mask passed to CollectGarbage.
type KeepFlags uint32

// KeepNone keeps nothing beyond the root set and KeepAlive pins.
const KeepNone KeepFlags = 0

// -----------------------------------------------------------------------------
// Teardown protocol
// -----------------------------------------------------------------------------

// Payload is the optional two-phase asynchronous teardown contract for a
// managed object. BeginTeardown is called exactly once when the object has
// been proven unreachable; IsTeardownComplete is polled (possibly many
// times, and must be safe to call repeatedly) until it reports true; then
// FinishTeardown is called exactly once, after which the object may be
// physically freed.
//
// Objects registered with a nil payload skip the protocol entirely and are
// freed as soon as the pipeline reaches them.
type Payload interface {
	BeginTeardown()
	IsTeardownComplete() bool
	FinishTeardown()
}

package layout

import "github.com/joshuapare/gckit/pkg/types"

// Visitor is handed to native callbacks so they can report references the
// token format cannot describe. References are visited through pointers:
// the tracer may null a visited reference in place when its target is
// pending kill and elimination is allowed.
type Visitor interface {
	// VisitRef reports a single reference. *ref may be set to
	// types.InvalidIndex by the tracer.
	VisitRef(ref *types.Index)

	// VisitRefs reports a slice of references, any of which may be nulled
	// in place.
	VisitRefs(refs []types.Index)

	// AllowEliminatingReferences toggles whether subsequently visited
	// references may be nulled when their target is pending kill.
	// Structural edges (outer/class style links) that must never be
	// severed are visited with elimination disabled. Callbacks should
	// restore the previous setting before returning.
	AllowEliminatingReferences(allow bool)
}

// NativeFn is a native tracing hook invoked for a KindNative token. It
// runs on tracer worker goroutines and must only report references owned
// by obj.
type NativeFn func(obj types.Index, v Visitor)

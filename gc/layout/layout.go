// Package layout builds and caches reference layout descriptors: the
// per-type compact token streams that tell the tracer where references
// live inside an object's slot block.
//
// A descriptor is built once per type (inherited tokens first, then the
// type's own) and is immutable afterwards, safe to read concurrently from
// every tracer worker. Types whose whole hierarchy declares no reference
// fields produce an empty stream, which lets the tracer skip their
// instances without touching the slab at all.
package layout

import (
	"github.com/joshuapare/gckit/pkg/types"
)

// FieldKind enumerates the reference-bearing field shapes a type can
// declare. Aggregates that contain no references at any depth should
// simply not be declared.
type FieldKind uint8

const (
	// FieldRef is a single reference slot.
	FieldRef FieldKind = iota
	// FieldRefArray is a dynamic array of reference slots.
	FieldRefArray
	// FieldStructArray is a dynamic array of structs containing references.
	FieldStructArray
	// FieldFixedArray is a fixed-size inline array of structs containing
	// references.
	FieldFixedArray
	// FieldNative delegates to a native callback for layouts the token
	// format cannot express.
	FieldNative
)

// Field describes one reference-bearing field of a type. Offsets are byte
// offsets into the owning slot block (or, for Elem fields, into the
// element identified by the region stride).
type Field struct {
	Name   string
	Kind   FieldKind
	Offset uint32
	Stride uint32   // element size for struct/fixed arrays
	Count  uint32   // element count for fixed arrays
	Elem   []Field  // nested fields for struct/fixed arrays
	Native NativeFn // callback for FieldNative

	// NonEliminable marks a FieldRef as a structural edge (outer/class
	// style link) that must never be nulled when its target is pending
	// kill.
	NonEliminable bool
}

// TypeDesc declares a type to the layout registry.
type TypeDesc struct {
	// Name is the diagnostic name of the type. Required.
	Name string
	// Super is the already-registered supertype, or InvalidType. The
	// supertype's descriptor is inherited: its tokens prefix this type's
	// stream, and Size must cover the supertype's block.
	Super types.TypeID
	// Size is the slot block size in bytes.
	Size uint32
	// Fields are the type's own reference-bearing fields.
	Fields []Field
	// Native is an optional additional tracing hook appended after the
	// field tokens, for references the token format cannot express.
	Native NativeFn
}

// Stream is an assembled, immutable reference token stream.
type Stream struct {
	name    string
	size    uint32
	tokens  []uint32
	natives []NativeFn
}

// Empty reports whether the stream carries no tokens at all, meaning
// instances of the type hold no references and tracing can skip them.
func (s *Stream) Empty() bool { return len(s.tokens) == 0 }

// Tokens returns the packed token words. Read-only.
func (s *Stream) Tokens() []uint32 { return s.tokens }

// NativeAt returns the callback stored in the given callback slot.
func (s *Stream) NativeAt(slot uint32) NativeFn { return s.natives[slot] }

// BlockSize returns the slot block size for instances of the type.
func (s *Stream) BlockSize() uint32 { return s.size }

// Name returns the diagnostic type name.
func (s *Stream) Name() string { return s.name }

package format

// Reference token stream encoding.
//
// A layout descriptor is a flat []uint32. Most entries are packed
// reference tokens; region tokens are followed by raw stride/count words
// and a skip-info word that is back-patched by the builder once the
// nested region's token length is known. The skip word lets the tracer
// jump over an entire nested region in O(1) when the dynamic container at
// that offset is empty, which is the common case.
//
// Packed token layout (uint32):
//
//	bits  0..3   token kind
//	bits  4..31  byte offset into the object's slot block
//
// Skip-info layout (uint32):
//
//	bits  0..23  forward delta in tokens from the skip word to the first
//	             token after the region
//	bits 24..31  reserved (zero)

// TokenKind enumerates the closed set of reference token kinds. Dispatch
// is a switch over this enum; there is no dynamic dispatch in the trace
// loop except for explicit native-callback tokens.
type TokenKind uint32

const (
	// KindNone is an invalid token; it never appears in an assembled stream.
	KindNone TokenKind = iota
	// KindRef is a direct reference slot at the token offset.
	KindRef
	// KindRefArray is a dynamic array of reference slots; the token offset
	// locates the container header in the slot block.
	KindRefArray
	// KindStructArray is a dynamic array of structs that contain references.
	// Followed by a stride word, a skip-info word, and the nested tokens.
	KindStructArray
	// KindFixedArray is a fixed-size inline array of structs that contain
	// references. Followed by stride, count, and skip-info words, and the
	// nested tokens.
	KindFixedArray
	// KindNative invokes a registered native callback for layouts the token
	// format cannot express. Followed by a callback-slot word indexing the
	// stream's callback table.
	KindNative
	// KindEnd terminates the stream.
	KindEnd
	// KindRefNoElim is a direct reference slot holding a structural edge
	// (outer/class style link) that must never be nulled, even when its
	// target is pending kill.
	KindRefNoElim
)

const (
	kindBits   = 4
	kindMask   = 1<<kindBits - 1
	offsetBits = 32 - kindBits

	skipDeltaBits = 24
	skipDeltaMask = 1<<skipDeltaBits - 1
)

// MaxOffset is the largest representable slot-block byte offset.
const MaxOffset = 1<<offsetBits - 1

// MaxSkipDelta is the largest representable skip distance in tokens.
const MaxSkipDelta = skipDeltaMask

// SkipPlaceholder is the value the builder emits for a skip-info word
// before the region length is known. Assembled streams never contain it.
const SkipPlaceholder uint32 = 0xFFFFFFFF

// PackToken packs a token kind and slot-block byte offset into one word.
func PackToken(kind TokenKind, offset uint32) uint32 {
	return uint32(kind) | offset<<kindBits
}

// UnpackToken splits a packed token word.
func UnpackToken(tok uint32) (kind TokenKind, offset uint32) {
	return TokenKind(tok & kindMask), tok >> kindBits
}

// PackSkip encodes a forward token delta as a skip-info word.
func PackSkip(delta uint32) uint32 {
	return delta & skipDeltaMask
}

// UnpackSkip decodes the forward token delta from a skip-info word.
func UnpackSkip(skip uint32) uint32 {
	return skip & skipDeltaMask
}

// String names the token kind for diagnostics.
func (k TokenKind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindRef:
		return "Ref"
	case KindRefArray:
		return "RefArray"
	case KindStructArray:
		return "StructArray"
	case KindFixedArray:
		return "FixedArray"
	case KindNative:
		return "Native"
	case KindEnd:
		return "End"
	case KindRefNoElim:
		return "RefNoElim"
	default:
		return "Unknown"
	}
}

package format

import "encoding/binary"

// Binary encoding utilities for reference slots inside the arena slab.
//
// Implementation: encoding/binary.LittleEndian. The compiler inlines and
// optimizes these calls well enough that unsafe reinterpretation buys
// nothing measurable, so the slab codec stays on the standard library.

// NilRef is the encoded null reference. It doubles as the "no region"
// marker in dynamic container headers.
const NilRef uint32 = 0xFFFFFFFF

// RefSize is the encoded size of one reference slot in bytes.
const RefSize = 4

// RegionHeaderSize is the encoded size of a dynamic container header:
// region offset (4 bytes) followed by element count (4 bytes).
const RegionHeaderSize = 8

// PutU32 writes a uint32 to the slab at the given byte offset.
func PutU32(b []byte, off uint32, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// ReadU32 reads a uint32 from the slab at the given byte offset.
func ReadU32(b []byte, off uint32) uint32 {
	return binary.LittleEndian.Uint32(b[off : off+4])
}

// PutRef writes a reference slot. NilRef encodes the null reference.
func PutRef(b []byte, off uint32, ref uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], ref)
}

// ReadRef reads a reference slot.
func ReadRef(b []byte, off uint32) uint32 {
	return binary.LittleEndian.Uint32(b[off : off+4])
}

// PutRegionHeader writes a dynamic container header at off.
func PutRegionHeader(b []byte, off uint32, region uint32, count uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], region)
	binary.LittleEndian.PutUint32(b[off+4:off+8], count)
}

// ReadRegionHeader reads a dynamic container header at off.
func ReadRegionHeader(b []byte, off uint32) (region uint32, count uint32) {
	region = binary.LittleEndian.Uint32(b[off : off+4])
	count = binary.LittleEndian.Uint32(b[off+4 : off+8])
	return region, count
}

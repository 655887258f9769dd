// Package format defines the compact binary encodings shared by the
// layout builder, the tracer, and the object registry: the packed
// reference-token word, the skip-info word used to jump over empty
// dynamic containers, and the 4-byte reference slot codec used for all
// reference storage inside the arena slab.
//
// All multi-byte values are little-endian.
package format

// Package types defines the public identifiers, flags, and diagnostic
// hooks shared by every component of the collector.
//
// Objects are referred to by small, copyable dense indices rather than
// pointers. Using handles keeps the tracer's hot loop cache friendly and
// makes per-object flag updates a single atomic word operation regardless
// of what the managed payload looks like.
//
// This package has no dependencies beyond the standard library.
package types

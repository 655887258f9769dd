// Package arena provides the fixed-capacity byte slab that backs all
// reference-slot storage. On unix the slab is an anonymous memory mapping
// so the (potentially large) reference graph lives outside the Go heap;
// elsewhere it falls back to a plain allocation.
//
// The arena itself is only a slab: allocation policy (size classes, free
// lists) lives in gc/alloc.
package arena

import (
	"errors"
	"fmt"
)

// DefaultCapacity is the slab size used when the caller does not specify
// one. Reference slots are small (4 bytes each), so 64 MiB covers tens of
// millions of references.
const DefaultCapacity = 64 << 20

// ErrClosed indicates use of an arena after Close.
var ErrClosed = errors.New("arena: closed")

// Arena is a fixed-capacity byte slab. The zero value is not usable; call
// New.
type Arena struct {
	data    []byte
	release func() error
}

// New maps a slab of the given capacity. A capacity of 0 selects
// DefaultCapacity.
func New(capacity int) (*Arena, error) {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 0 {
		return nil, fmt.Errorf("arena: invalid capacity %d", capacity)
	}
	data, release, err := mapSlab(capacity)
	if err != nil {
		return nil, fmt.Errorf("arena: mapping %d bytes: %w", capacity, err)
	}
	return &Arena{data: data, release: release}, nil
}

// Bytes returns the backing slab. The slice is valid until Close.
func (a *Arena) Bytes() []byte { return a.data }

// Cap returns the slab capacity in bytes.
func (a *Arena) Cap() int { return len(a.data) }

// Close releases the slab. The arena must not be used afterwards.
func (a *Arena) Close() error {
	if a.data == nil {
		return ErrClosed
	}
	a.data = nil
	if a.release == nil {
		return nil
	}
	release := a.release
	a.release = nil
	return release()
}

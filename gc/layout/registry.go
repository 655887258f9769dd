package layout

import (
	"fmt"
	"sync"

	"github.com/joshuapare/gckit/pkg/types"
)

// Registry maps type IDs to descriptors and their assembled token
// streams. Registration happens at startup; streams are assembled lazily
// on first use and memoized, after which lookups are lock-cheap reads.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry // index = TypeID - 1
	byName  map[string]types.TypeID
}

type entry struct {
	desc   TypeDesc
	stream *Stream // nil until assembled
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]types.TypeID)}
}

// Register validates and records a type descriptor, returning its ID.
// The supertype, if any, must already be registered.
func (r *Registry) Register(desc TypeDesc) (types.TypeID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var superSize uint32
	if desc.Super != types.InvalidType {
		se, err := r.entryLocked(desc.Super)
		if err != nil {
			return types.InvalidType, fmt.Errorf("layout: type %q supertype: %w", desc.Name, err)
		}
		superSize = se.desc.Size
	}
	if err := validate(&desc, superSize); err != nil {
		return types.InvalidType, err
	}
	if _, dup := r.byName[desc.Name]; dup {
		return types.InvalidType, fmt.Errorf("layout: type %q already registered", desc.Name)
	}

	r.entries = append(r.entries, &entry{desc: desc})
	id := types.TypeID(len(r.entries))
	r.byName[desc.Name] = id
	return id, nil
}

// MustRegister is Register for startup code paths where a bad descriptor
// is a programming error.
func (r *Registry) MustRegister(desc TypeDesc) types.TypeID {
	id, err := r.Register(desc)
	if err != nil {
		panic(err)
	}
	return id
}

// Stream returns the assembled token stream for a type, building and
// caching it (and its supertype chain) on first use.
func (r *Registry) Stream(id types.TypeID) (*Stream, error) {
	r.mu.RLock()
	e, err := r.entryLocked(id)
	if err == nil && e.stream != nil {
		s := e.stream
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assembleLocked(id)
}

// BlockSize returns the slot block size for a type.
func (r *Registry) BlockSize(id types.TypeID) (uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.entryLocked(id)
	if err != nil {
		return 0, err
	}
	return e.desc.Size, nil
}

// Name returns the diagnostic name for a type, or "<invalid>".
func (r *Registry) Name(id types.TypeID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.entryLocked(id)
	if err != nil {
		return "<invalid>"
	}
	return e.desc.Name
}

// LookupName resolves a registered type by name.
func (r *Registry) LookupName(name string) (types.TypeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// entryLocked fetches an entry under either lock mode.
func (r *Registry) entryLocked(id types.TypeID) (*entry, error) {
	if id == types.InvalidType || int(id) > len(r.entries) {
		return nil, fmt.Errorf("layout: unknown type id %d", id)
	}
	return r.entries[id-1], nil
}

// assembleLocked builds the stream for id, assembling supertypes first.
// Called with the write lock held.
func (r *Registry) assembleLocked(id types.TypeID) (*Stream, error) {
	e, err := r.entryLocked(id)
	if err != nil {
		return nil, err
	}
	if e.stream != nil {
		return e.stream, nil
	}

	var super *Stream
	if e.desc.Super != types.InvalidType {
		super, err = r.assembleLocked(e.desc.Super)
		if err != nil {
			return nil, err
		}
	}

	s, err := assemble(&e.desc, super)
	if err != nil {
		return nil, err
	}
	e.stream = s
	return s, nil
}

package layout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gckit/internal/format"
	"github.com/joshuapare/gckit/pkg/types"
)

func Test_Assemble_SimpleRef(t *testing.T) {
	r := NewRegistry()
	id := r.MustRegister(TypeDesc{
		Name: "Node",
		Size: 16,
		Fields: []Field{
			{Name: "Next", Kind: FieldRef, Offset: 0},
			{Name: "Prev", Kind: FieldRef, Offset: 4},
		},
	})

	s, err := r.Stream(id)
	require.NoError(t, err)
	require.False(t, s.Empty())

	toks := s.Tokens()
	require.Len(t, toks, 3)

	kind, off := format.UnpackToken(toks[0])
	require.Equal(t, format.KindRef, kind)
	require.Equal(t, uint32(0), off)

	kind, off = format.UnpackToken(toks[1])
	require.Equal(t, format.KindRef, kind)
	require.Equal(t, uint32(4), off)

	kind, _ = format.UnpackToken(toks[2])
	require.Equal(t, format.KindEnd, kind)
}

func Test_Assemble_EmptyStream(t *testing.T) {
	r := NewRegistry()
	id := r.MustRegister(TypeDesc{Name: "Opaque", Size: 32})

	s, err := r.Stream(id)
	require.NoError(t, err)
	require.True(t, s.Empty())
	require.Empty(t, s.Tokens())
	require.Equal(t, uint32(32), s.BlockSize())
}

func Test_Assemble_Inheritance(t *testing.T) {
	r := NewRegistry()
	base := r.MustRegister(TypeDesc{
		Name:   "Base",
		Size:   8,
		Fields: []Field{{Name: "Owner", Kind: FieldRef, Offset: 0}},
	})
	derived := r.MustRegister(TypeDesc{
		Name:   "Derived",
		Super:  base,
		Size:   16,
		Fields: []Field{{Name: "Child", Kind: FieldRef, Offset: 8}},
	})

	s, err := r.Stream(derived)
	require.NoError(t, err)

	// Base token first, with its terminal End replaced by the derived
	// type's own tokens.
	toks := s.Tokens()
	require.Len(t, toks, 3)

	kind, off := format.UnpackToken(toks[0])
	require.Equal(t, format.KindRef, kind)
	require.Equal(t, uint32(0), off)

	kind, off = format.UnpackToken(toks[1])
	require.Equal(t, format.KindRef, kind)
	require.Equal(t, uint32(8), off)

	kind, _ = format.UnpackToken(toks[2])
	require.Equal(t, format.KindEnd, kind)
}

func Test_Assemble_InheritedNativeSlots(t *testing.T) {
	baseCalled := false
	derivedCalled := false

	r := NewRegistry()
	base := r.MustRegister(TypeDesc{
		Name:   "NativeBase",
		Size:   8,
		Native: func(types.Index, Visitor) { baseCalled = true },
	})
	derived := r.MustRegister(TypeDesc{
		Name:   "NativeDerived",
		Super:  base,
		Size:   8,
		Native: func(types.Index, Visitor) { derivedCalled = true },
	})

	s, err := r.Stream(derived)
	require.NoError(t, err)

	// Two native tokens, each followed by its callback slot word, in
	// inheritance order.
	toks := s.Tokens()
	require.Len(t, toks, 5)

	kind, _ := format.UnpackToken(toks[0])
	require.Equal(t, format.KindNative, kind)
	require.Equal(t, uint32(0), toks[1])
	kind, _ = format.UnpackToken(toks[2])
	require.Equal(t, format.KindNative, kind)
	require.Equal(t, uint32(1), toks[3])

	s.NativeAt(toks[1])(0, nil)
	s.NativeAt(toks[3])(0, nil)
	require.True(t, baseCalled)
	require.True(t, derivedCalled)
}

func Test_Assemble_StructArraySkip(t *testing.T) {
	r := NewRegistry()
	id := r.MustRegister(TypeDesc{
		Name: "Holder",
		Size: 16,
		Fields: []Field{
			{
				Name: "Items", Kind: FieldStructArray, Offset: 0, Stride: 12,
				Elem: []Field{
					{Name: "Target", Kind: FieldRef, Offset: 0},
					{Name: "Backup", Kind: FieldRef, Offset: 8},
				},
			},
			{Name: "Tail", Kind: FieldRef, Offset: 8},
		},
	})

	s, err := r.Stream(id)
	require.NoError(t, err)

	// StructArray token, stride word, skip word, two element tokens, then
	// the sibling Tail token and End.
	toks := s.Tokens()
	require.Len(t, toks, 7)

	kind, off := format.UnpackToken(toks[0])
	require.Equal(t, format.KindStructArray, kind)
	require.Equal(t, uint32(0), off)
	require.Equal(t, uint32(12), toks[1])

	// Skip delta lands on the first token after the element region.
	delta := format.UnpackSkip(toks[2])
	require.Equal(t, uint32(3), delta)
	kind, off = format.UnpackToken(toks[2+int(delta)])
	require.Equal(t, format.KindRef, kind)
	require.Equal(t, uint32(8), off)
}

func Test_Assemble_FixedArraySkip(t *testing.T) {
	r := NewRegistry()
	id := r.MustRegister(TypeDesc{
		Name: "Grid",
		Size: 64,
		Fields: []Field{
			{
				Name: "Cells", Kind: FieldFixedArray, Offset: 0, Stride: 16, Count: 4,
				Elem: []Field{{Name: "Occupant", Kind: FieldRef, Offset: 4}},
			},
		},
	})

	s, err := r.Stream(id)
	require.NoError(t, err)

	toks := s.Tokens()
	require.Len(t, toks, 6)

	kind, _ := format.UnpackToken(toks[0])
	require.Equal(t, format.KindFixedArray, kind)
	require.Equal(t, uint32(16), toks[1])
	require.Equal(t, uint32(4), toks[2])

	delta := format.UnpackSkip(toks[3])
	require.Equal(t, uint32(2), delta)
	kind, _ = format.UnpackToken(toks[3+int(delta)])
	require.Equal(t, format.KindEnd, kind)
}

func Test_Register_Validation(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register(TypeDesc{Size: 8})
	require.Error(t, err)

	_, err = r.Register(TypeDesc{
		Name:   "OutOfBlock",
		Size:   8,
		Fields: []Field{{Name: "Ref", Kind: FieldRef, Offset: 8}},
	})
	require.ErrorContains(t, err, "outside block")

	_, err = r.Register(TypeDesc{
		Name:   "ZeroStride",
		Size:   16,
		Fields: []Field{{Name: "Items", Kind: FieldStructArray, Offset: 0}},
	})
	require.ErrorContains(t, err, "zero stride")

	_, err = r.Register(TypeDesc{
		Name:   "NilNative",
		Size:   8,
		Fields: []Field{{Name: "Hook", Kind: FieldNative}},
	})
	require.ErrorContains(t, err, "nil native callback")

	// Element extents validate against the stride, not the block size.
	_, err = r.Register(TypeDesc{
		Name: "ElemOutOfStride",
		Size: 64,
		Fields: []Field{{
			Name: "Items", Kind: FieldStructArray, Offset: 0, Stride: 8,
			Elem: []Field{{Name: "Ref", Kind: FieldRef, Offset: 8}},
		}},
	})
	require.ErrorContains(t, err, "outside block")
}

func Test_Register_DuplicateName(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(TypeDesc{Name: "Once", Size: 8})
	_, err := r.Register(TypeDesc{Name: "Once", Size: 8})
	require.ErrorContains(t, err, "already registered")
}

func Test_Register_SuperSize(t *testing.T) {
	r := NewRegistry()
	base := r.MustRegister(TypeDesc{Name: "Big", Size: 32})
	_, err := r.Register(TypeDesc{Name: "Small", Super: base, Size: 16})
	require.ErrorContains(t, err, "smaller than supertype")
}

func Test_Register_UnknownSuper(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(TypeDesc{Name: "Orphan", Super: 99, Size: 8})
	require.ErrorContains(t, err, "unknown type id")
}

func Test_Registry_Lookup(t *testing.T) {
	r := NewRegistry()
	id := r.MustRegister(TypeDesc{Name: "Actor", Size: 24})

	require.Equal(t, "Actor", r.Name(id))
	require.Equal(t, "<invalid>", r.Name(types.InvalidType))

	got, ok := r.LookupName("Actor")
	require.True(t, ok)
	require.Equal(t, id, got)

	_, ok = r.LookupName("Ghost")
	require.False(t, ok)

	size, err := r.BlockSize(id)
	require.NoError(t, err)
	require.Equal(t, uint32(24), size)
}

func Test_WalkRegions(t *testing.T) {
	r := NewRegistry()
	id := r.MustRegister(TypeDesc{
		Name: "Owner",
		Size: 24,
		Fields: []Field{
			{Name: "Refs", Kind: FieldRefArray, Offset: 0},
			{
				Name: "Items", Kind: FieldStructArray, Offset: 8, Stride: 12,
				Elem: []Field{{Name: "Inner", Kind: FieldRefArray, Offset: 4}},
			},
		},
	})
	s, err := r.Stream(id)
	require.NoError(t, err)

	slab := make([]byte, 512)
	base := uint32(0)

	// Refs: 3 entries at region 100.
	format.PutRegionHeader(slab, base+0, 100, 3)
	// Items: 2 elements at region 200, each with a nested ref array.
	format.PutRegionHeader(slab, base+8, 200, 2)
	format.PutRegionHeader(slab, 200+4, 300, 1)    // element 0 inner
	format.PutRegionHeader(slab, 200+12+4, 320, 2) // element 1 inner

	type region struct{ off, size uint32 }
	var got []region
	s.WalkRegions(slab, base, func(off, size uint32) {
		got = append(got, region{off, size})
	})

	// Nested regions come before their containing region.
	require.Equal(t, []region{
		{100, 12},
		{300, 4},
		{320, 8},
		{200, 24},
	}, got)
}

func Test_InitBlock(t *testing.T) {
	r := NewRegistry()
	id := r.MustRegister(TypeDesc{
		Name: "Mixed",
		Size: 48,
		Fields: []Field{
			{Name: "Target", Kind: FieldRef, Offset: 0},
			{Name: "Refs", Kind: FieldRefArray, Offset: 4},
			{
				Name: "Pair", Kind: FieldFixedArray, Offset: 16, Stride: 8, Count: 2,
				Elem: []Field{{Name: "Ref", Kind: FieldRef, Offset: 0}},
			},
		},
	})
	s, err := r.Stream(id)
	require.NoError(t, err)

	slab := make([]byte, 64) // zeroed, so NilRef writes are observable
	s.InitBlock(slab, 0)

	require.Equal(t, format.NilRef, format.ReadRef(slab, 0))
	region, count := format.ReadRegionHeader(slab, 4)
	require.Equal(t, format.NilRef, region)
	require.Equal(t, uint32(0), count)
	require.Equal(t, format.NilRef, format.ReadRef(slab, 16))
	require.Equal(t, format.NilRef, format.ReadRef(slab, 24))
}

func Test_Container_Lookup(t *testing.T) {
	r := NewRegistry()
	id := r.MustRegister(TypeDesc{
		Name: "Containers",
		Size: 32,
		Fields: []Field{
			{Name: "Refs", Kind: FieldRefArray, Offset: 0},
			{
				Name: "Items", Kind: FieldStructArray, Offset: 8, Stride: 16,
				Elem: []Field{{Name: "Inner", Kind: FieldRefArray, Offset: 8}},
			},
		},
	})
	s, err := r.Stream(id)
	require.NoError(t, err)

	c, ok := s.Container(0)
	require.True(t, ok)
	require.Equal(t, format.KindRefArray, c.Kind)
	require.Equal(t, uint32(format.RefSize), c.Stride)

	c, ok = s.Container(8)
	require.True(t, ok)
	require.Equal(t, format.KindStructArray, c.Kind)
	require.Equal(t, uint32(16), c.Stride)

	_, ok = s.Container(4)
	require.False(t, ok)

	// Struct-array elements initialize through the container, and their
	// nested regions surface through WalkElemRegions.
	slab := make([]byte, 256)
	c.InitElems(slab, 64, 2)
	r0, n0 := format.ReadRegionHeader(slab, 64+8)
	require.Equal(t, format.NilRef, r0)
	require.Equal(t, uint32(0), n0)

	format.PutRegionHeader(slab, 64+8, 128, 3)
	var got []uint32
	c.WalkElemRegions(slab, 64, 2, func(off, size uint32) {
		got = append(got, off, size)
	})
	require.Equal(t, []uint32{128, 12}, got)
}

func Test_WalkRegions_EmptyContainers(t *testing.T) {
	r := NewRegistry()
	id := r.MustRegister(TypeDesc{
		Name: "Hollow",
		Size: 16,
		Fields: []Field{
			{Name: "Refs", Kind: FieldRefArray, Offset: 0},
			{
				Name: "Items", Kind: FieldStructArray, Offset: 8, Stride: 4,
				Elem: []Field{{Name: "Ref", Kind: FieldRef, Offset: 0}},
			},
		},
	})
	s, err := r.Stream(id)
	require.NoError(t, err)

	slab := make([]byte, 64)
	format.PutRegionHeader(slab, 0, format.NilRef, 0)
	format.PutRegionHeader(slab, 8, format.NilRef, 0)

	s.WalkRegions(slab, 0, func(off, size uint32) {
		t.Fatalf("unexpected region %d (%d bytes)", off, size)
	})
}

package layout

import (
	"github.com/joshuapare/gckit/internal/format"
	"github.com/joshuapare/gckit/pkg/types"
)

// InitBlock writes null references and empty container headers into a
// freshly allocated slot block. Allocator blocks carry whatever the
// previous occupant left behind, so every slot the stream describes must
// be initialized before the block is published.
func (s *Stream) InitBlock(slab []byte, base uint32) {
	initRegion(slab, s.tokens, base)
}

func initRegion(slab []byte, toks []uint32, base uint32) {
	i := 0
	for i < len(toks) {
		kind, off := format.UnpackToken(toks[i])
		switch kind {
		case format.KindRef, format.KindRefNoElim:
			format.PutRef(slab, base+off, format.NilRef)
			i++

		case format.KindRefArray:
			format.PutRegionHeader(slab, base+off, format.NilRef, 0)
			i++

		case format.KindStructArray:
			format.PutRegionHeader(slab, base+off, format.NilRef, 0)
			skipIdx := i + 2
			i = skipIdx + int(format.UnpackSkip(toks[skipIdx]))

		case format.KindFixedArray:
			stride := toks[i+1]
			count := toks[i+2]
			skipIdx := i + 3
			delta := int(format.UnpackSkip(toks[skipIdx]))
			inner := toks[skipIdx+1 : skipIdx+delta]
			for e := uint32(0); e < count; e++ {
				initRegion(slab, inner, base+off+e*stride)
			}
			i = skipIdx + delta

		case format.KindNative:
			i += 2

		default:
			return
		}
	}
}

// WalkRegions reports every dynamic container region reachable from an
// instance's token stream, innermost first. The registry uses this to
// release an object's container regions when the object is freed; the
// tracer has its own interpreter because its per-reference handling is
// the hot path.
func (s *Stream) WalkRegions(slab []byte, base uint32, fn func(off, size uint32)) {
	walkRegions(slab, s.tokens, base, fn, s.name)
}

func walkRegions(slab []byte, toks []uint32, base uint32, fn func(off, size uint32), name string) {
	i := 0
	for i < len(toks) {
		kind, off := format.UnpackToken(toks[i])
		switch kind {
		case format.KindRef, format.KindRefNoElim:
			i++

		case format.KindRefArray:
			region, count := format.ReadRegionHeader(slab, base+off)
			if region != format.NilRef && count > 0 {
				fn(region, count*format.RefSize)
			}
			i++

		case format.KindStructArray:
			stride := toks[i+1]
			skipIdx := i + 2
			delta := int(format.UnpackSkip(toks[skipIdx]))
			inner := toks[skipIdx+1 : skipIdx+delta]
			region, count := format.ReadRegionHeader(slab, base+off)
			if region != format.NilRef && count > 0 {
				for e := uint32(0); e < count; e++ {
					walkRegions(slab, inner, region+e*stride, fn, name)
				}
				fn(region, count*stride)
			}
			i = skipIdx + delta

		case format.KindFixedArray:
			stride := toks[i+1]
			count := toks[i+2]
			skipIdx := i + 3
			delta := int(format.UnpackSkip(toks[skipIdx]))
			inner := toks[skipIdx+1 : skipIdx+delta]
			for e := uint32(0); e < count; e++ {
				walkRegions(slab, inner, base+off+e*stride, fn, name)
			}
			i = skipIdx + delta

		case format.KindNative:
			i += 2 // callback slot word

		case format.KindEnd:
			return

		default:
			types.Fatalf("layout: corrupt token stream for %q: kind %d at token %d",
				name, kind, i)
			return
		}
	}
}

// Container describes a dynamic container field, located by the byte
// offset of its header inside the slot block.
type Container struct {
	Kind   format.TokenKind // KindRefArray or KindStructArray
	Stride uint32           // element size (format.RefSize for ref arrays)
	name   string
	inner  []uint32
}

// Container finds the dynamic container whose header sits at the given
// top-level byte offset. Containers nested inside struct regions are
// addressed through their owning region, not through this lookup.
func (s *Stream) Container(offset uint32) (Container, bool) {
	toks := s.tokens
	i := 0
	for i < len(toks) {
		kind, off := format.UnpackToken(toks[i])
		switch kind {
		case format.KindRef, format.KindRefNoElim:
			i++

		case format.KindRefArray:
			if off == offset {
				return Container{Kind: kind, Stride: format.RefSize, name: s.name}, true
			}
			i++

		case format.KindStructArray:
			skipIdx := i + 2
			delta := int(format.UnpackSkip(toks[skipIdx]))
			if off == offset {
				return Container{
					Kind:   kind,
					Stride: toks[i+1],
					name:   s.name,
					inner:  toks[skipIdx+1 : skipIdx+delta],
				}, true
			}
			i = skipIdx + delta

		case format.KindFixedArray:
			skipIdx := i + 3
			i = skipIdx + int(format.UnpackSkip(toks[skipIdx]))

		case format.KindNative:
			i += 2

		default:
			return Container{}, false
		}
	}
	return Container{}, false
}

// InitElems initializes count freshly allocated elements in a container
// region.
func (c Container) InitElems(slab []byte, region uint32, count uint32) {
	if c.Kind == format.KindRefArray {
		for e := uint32(0); e < count; e++ {
			format.PutRef(slab, region+e*format.RefSize, format.NilRef)
		}
		return
	}
	for e := uint32(0); e < count; e++ {
		initRegion(slab, c.inner, region+e*c.Stride)
	}
}

// WalkElemRegions reports the nested container regions held by the
// elements of a struct-array region, innermost first, so they can be
// released before the region itself.
func (c Container) WalkElemRegions(slab []byte, region uint32, count uint32, fn func(off, size uint32)) {
	if c.Kind != format.KindStructArray {
		return
	}
	for e := uint32(0); e < count; e++ {
		walkRegions(slab, c.inner, region+e*c.Stride, fn, c.name)
	}
}

package trace

import (
	"github.com/joshuapare/gckit/gc/layout"
	"github.com/joshuapare/gckit/internal/format"
	"github.com/joshuapare/gckit/pkg/types"
)

// traceObject interprets one frontier entry's layout stream, appending
// every newly reachable object to out.
func (tr *Tracer) traceObject(idx types.Index, out *[]types.Index) {
	it := tr.objects.Item(idx)
	stream, err := tr.objects.Types().Stream(it.TypeID())
	if err != nil {
		types.Fatalf("trace: object %d (%s): %v", idx, tr.objects.Name(idx), err)
		return
	}
	if stream.Empty() {
		return
	}
	tr.traceRegion(idx, stream, stream.Tokens(), it.DataOffset(), out)
}

// traceRegion walks one token region. base is the slab byte offset of
// the region (the slot block for top-level tokens, an element start for
// nested regions).
func (tr *Tracer) traceRegion(referrer types.Index, stream *layout.Stream, toks []uint32, base uint32, out *[]types.Index) {
	slab := tr.objects.Slab()
	i := 0
	for i < len(toks) {
		kind, off := format.UnpackToken(toks[i])
		switch kind {
		case format.KindRef:
			tr.handleSlot(referrer, base+off, true, i, out)
			i++

		case format.KindRefNoElim:
			tr.handleSlot(referrer, base+off, false, i, out)
			i++

		case format.KindRefArray:
			region, count := format.ReadRegionHeader(slab, base+off)
			if region != format.NilRef {
				for e := uint32(0); e < count; e++ {
					tr.handleSlot(referrer, region+e*format.RefSize, true, i, out)
				}
			}
			i++

		case format.KindStructArray:
			stride := toks[i+1]
			skipIdx := i + 2
			delta := int(format.UnpackSkip(toks[skipIdx]))
			region, count := format.ReadRegionHeader(slab, base+off)
			if region != format.NilRef && count > 0 {
				inner := toks[skipIdx+1 : skipIdx+delta]
				for e := uint32(0); e < count; e++ {
					tr.traceRegion(referrer, stream, inner, region+e*stride, out)
				}
			}
			i = skipIdx + delta

		case format.KindFixedArray:
			stride := toks[i+1]
			count := toks[i+2]
			skipIdx := i + 3
			delta := int(format.UnpackSkip(toks[skipIdx]))
			inner := toks[skipIdx+1 : skipIdx+delta]
			for e := uint32(0); e < count; e++ {
				tr.traceRegion(referrer, stream, inner, base+off+e*stride, out)
			}
			i = skipIdx + delta

		case format.KindNative:
			v := &refVisitor{tr: tr, referrer: referrer, allowElim: true, out: out}
			stream.NativeAt(toks[i+1])(referrer, v)
			i += 2

		case format.KindEnd:
			return

		default:
			types.Fatalf("trace: corrupt token stream for %q: kind %s at token %d (referrer %s)",
				stream.Name(), kind, i, tr.objects.Name(referrer))
			return
		}
	}
}

// handleSlot reads a reference slot from the slab, resolves it, and
// nulls it in place when the edge was eliminated.
func (tr *Tracer) handleSlot(referrer types.Index, slabOff uint32, allowElim bool, tokenIdx int, out *[]types.Index) {
	slab := tr.objects.Slab()
	ref := format.ReadRef(slab, slabOff)
	if tr.handleRef(referrer, ref, allowElim, tokenIdx, slabOff, out) {
		format.PutRef(slab, slabOff, format.NilRef)
	}
}

// handleRef resolves one discovered reference and reports whether the
// edge must be nulled. The null and permanent-pool checks come first:
// they are the hottest path and touch no object state.
func (tr *Tracer) handleRef(referrer, ref types.Index, allowElim bool, tokenIdx int, slabOff uint32, out *[]types.Index) bool {
	if ref == types.InvalidIndex {
		return false
	}
	if ref < tr.objects.FirstGCIndex() {
		return false
	}
	if !tr.objects.IsValidRef(ref) {
		// No recovery path: a dangling index means the heap is corrupt.
		types.Fatalf("trace: invalid reference %d held by %s (token %d, slab offset %d)",
			ref, tr.objects.Name(referrer), tokenIdx, slabOff)
		return false
	}

	it := tr.objects.Item(ref)

	if it.IsPendingKill() && allowElim {
		tr.objects.Item(referrer).SetFlags(types.FlagHadReferenceKilled)
		if tr.cfg.OnReferenceEliminated != nil {
			tr.cfg.OnReferenceEliminated(referrer, ref)
		}
		return true
	}

	if it.ClearUnreachableAtomic() {
		if it.IsClusterRoot() {
			tr.clusters.MarkReferencedClustersAsReachable(it.ClusterIndex(), func(idx types.Index) {
				*out = append(*out, idx)
			})
		} else {
			*out = append(*out, ref)
		}
		return false
	}

	if owner := it.OwnerIndex(); owner != types.InvalidIndex {
		if it.SetReachableInClusterAtomic() {
			root := tr.objects.Item(owner)
			if root.ClearUnreachableAtomic() && root.IsClusterRoot() {
				tr.clusters.MarkReferencedClustersAsReachable(root.ClusterIndex(), func(idx types.Index) {
					*out = append(*out, idx)
				})
			}
		}
	}
	return false
}

// refVisitor adapts handleRef for native callbacks, which hand the
// tracer references the token format cannot describe.
type refVisitor struct {
	tr        *Tracer
	referrer  types.Index
	allowElim bool
	out       *[]types.Index
}

func (v *refVisitor) VisitRef(ref *types.Index) {
	if v.tr.handleRef(v.referrer, *ref, v.allowElim, -1, 0, v.out) {
		*ref = types.InvalidIndex
	}
}

func (v *refVisitor) VisitRefs(refs []types.Index) {
	for i := range refs {
		v.VisitRef(&refs[i])
	}
}

func (v *refVisitor) AllowEliminatingReferences(allow bool) {
	v.allowElim = allow
}

package layout

import (
	"fmt"

	"github.com/joshuapare/gckit/internal/format"
)

// streamBuilder assembles the token stream for one type. Region tokens
// get a skip-info placeholder that is back-patched once the nested
// region's token length is known; the tracer uses the patched delta to
// hop over the whole region when the container is empty at trace time.
type streamBuilder struct {
	tokens  []uint32
	natives []NativeFn
}

// emitToken appends a packed token, validating the offset range.
func (b *streamBuilder) emitToken(kind format.TokenKind, offset uint32) error {
	if offset > format.MaxOffset {
		return fmt.Errorf("%w: offset %d", format.ErrOffsetRange, offset)
	}
	b.tokens = append(b.tokens, format.PackToken(kind, offset))
	return nil
}

// emitRaw appends an unpacked word (stride, count, callback slot).
func (b *streamBuilder) emitRaw(v uint32) {
	b.tokens = append(b.tokens, v)
}

// emitSkipPlaceholder reserves a skip-info word and returns its index.
func (b *streamBuilder) emitSkipPlaceholder() int {
	b.tokens = append(b.tokens, format.SkipPlaceholder)
	return len(b.tokens) - 1
}

// patchSkip back-patches the placeholder at skipIdx with the forward
// delta to the current stream end.
func (b *streamBuilder) patchSkip(skipIdx int) error {
	if b.tokens[skipIdx] != format.SkipPlaceholder {
		return fmt.Errorf("layout: skip index %d already patched", skipIdx)
	}
	delta := len(b.tokens) - skipIdx
	if delta > format.MaxSkipDelta {
		return format.ErrSkipRange
	}
	b.tokens[skipIdx] = format.PackSkip(uint32(delta))
	return nil
}

// emitNative appends a native-callback token and stores the callback in
// the stream's callback table.
func (b *streamBuilder) emitNative(fn NativeFn) error {
	if err := b.emitToken(format.KindNative, 0); err != nil {
		return err
	}
	b.emitRaw(uint32(len(b.natives)))
	b.natives = append(b.natives, fn)
	return nil
}

// emitField recursively expands one field into tokens. base shifts the
// field offset, which is how inherited streams and nested struct regions
// reuse the same emission path.
func (b *streamBuilder) emitField(f *Field, base uint32) error {
	switch f.Kind {
	case FieldRef:
		kind := format.KindRef
		if f.NonEliminable {
			kind = format.KindRefNoElim
		}
		return b.emitToken(kind, base+f.Offset)

	case FieldRefArray:
		return b.emitToken(format.KindRefArray, base+f.Offset)

	case FieldStructArray:
		if err := b.emitToken(format.KindStructArray, base+f.Offset); err != nil {
			return err
		}
		b.emitRaw(f.Stride)
		skipIdx := b.emitSkipPlaceholder()
		// Element fields are relative to the element start, not the block.
		for i := range f.Elem {
			if err := b.emitField(&f.Elem[i], 0); err != nil {
				return err
			}
		}
		return b.patchSkip(skipIdx)

	case FieldFixedArray:
		if err := b.emitToken(format.KindFixedArray, base+f.Offset); err != nil {
			return err
		}
		b.emitRaw(f.Stride)
		b.emitRaw(f.Count)
		skipIdx := b.emitSkipPlaceholder()
		for i := range f.Elem {
			if err := b.emitField(&f.Elem[i], 0); err != nil {
				return err
			}
		}
		return b.patchSkip(skipIdx)

	case FieldNative:
		return b.emitNative(f.Native)

	default:
		return fmt.Errorf("layout: unknown field kind %d in %q", f.Kind, f.Name)
	}
}

// assemble builds the full stream for desc, prefixed by the already
// assembled supertype stream (if any).
func assemble(desc *TypeDesc, super *Stream) (*Stream, error) {
	b := &streamBuilder{}

	if super != nil && !super.Empty() {
		// Inherit: copy the super tokens minus the terminal End. Callback
		// slots stay valid because the super's callback table is copied in
		// the same order.
		n := len(super.tokens)
		if kind, _ := format.UnpackToken(super.tokens[n-1]); kind == format.KindEnd {
			n--
		}
		b.tokens = append(b.tokens, super.tokens[:n]...)
		b.natives = append(b.natives, super.natives...)
	}

	for i := range desc.Fields {
		if err := b.emitField(&desc.Fields[i], 0); err != nil {
			return nil, fmt.Errorf("layout: type %q field %q: %w", desc.Name, desc.Fields[i].Name, err)
		}
	}

	if desc.Native != nil {
		if err := b.emitNative(desc.Native); err != nil {
			return nil, fmt.Errorf("layout: type %q native hook: %w", desc.Name, err)
		}
	}

	if len(b.tokens) > 0 {
		if err := b.emitToken(format.KindEnd, 0); err != nil {
			return nil, err
		}
	}

	return &Stream{
		name:    desc.Name,
		size:    desc.Size,
		tokens:  b.tokens,
		natives: b.natives,
	}, nil
}

// validate checks field extents against the declared block size before a
// descriptor is accepted.
func validate(desc *TypeDesc, superSize uint32) error {
	if desc.Name == "" {
		return fmt.Errorf("layout: type descriptor without a name")
	}
	if desc.Size < superSize {
		return fmt.Errorf("layout: type %q block size %d smaller than supertype block %d",
			desc.Name, desc.Size, superSize)
	}
	for i := range desc.Fields {
		if err := validateField(desc, &desc.Fields[i], desc.Size); err != nil {
			return err
		}
	}
	return nil
}

func validateField(desc *TypeDesc, f *Field, extent uint32) error {
	switch f.Kind {
	case FieldRef:
		if f.Offset+format.RefSize > extent {
			return fieldErr(desc, f, "reference slot outside block")
		}
	case FieldRefArray:
		if f.Offset+format.RegionHeaderSize > extent {
			return fieldErr(desc, f, "container header outside block")
		}
	case FieldStructArray:
		if f.Offset+format.RegionHeaderSize > extent {
			return fieldErr(desc, f, "container header outside block")
		}
		if f.Stride == 0 {
			return fieldErr(desc, f, "zero stride")
		}
		for i := range f.Elem {
			if err := validateField(desc, &f.Elem[i], f.Stride); err != nil {
				return err
			}
		}
	case FieldFixedArray:
		if f.Stride == 0 || f.Count == 0 {
			return fieldErr(desc, f, "zero stride or count")
		}
		if f.Offset+f.Stride*f.Count > extent {
			return fieldErr(desc, f, "fixed array outside block")
		}
		for i := range f.Elem {
			if err := validateField(desc, &f.Elem[i], f.Stride); err != nil {
				return err
			}
		}
	case FieldNative:
		if f.Native == nil {
			return fieldErr(desc, f, "nil native callback")
		}
	default:
		return fieldErr(desc, f, "unknown field kind")
	}
	return nil
}

func fieldErr(desc *TypeDesc, f *Field, msg string) error {
	return fmt.Errorf("layout: type %q field %q: %s", desc.Name, f.Name, msg)
}

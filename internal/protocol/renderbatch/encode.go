package renderbatch

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serializes b into the render batch wire format. It is the
// inverse of Decode for every batch Decode accepts.
func Encode(b *Batch) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil batch", ErrInvalidBatch)
	}
	w := &writer{buf: make([]byte, 0, 256)}
	w.u32(Magic)
	w.u16(Version)
	w.u16(0)
	w.u64(b.ID)

	w.u32(uint32(len(b.Frames)))
	for i, f := range b.Frames {
		if err := w.frame(f); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
	}

	w.u32(uint32(len(b.Diffs)))
	for i, d := range b.Diffs {
		w.u32(d.ComponentID)
		w.u32(uint32(len(d.Edits)))
		for j, e := range d.Edits {
			if err := w.edit(e); err != nil {
				return nil, fmt.Errorf("diff %d edit %d: %w", i, j, err)
			}
		}
	}

	w.u32(uint32(len(b.DisposedComponents)))
	for _, id := range b.DisposedComponents {
		w.u32(id)
	}
	w.u32(uint32(len(b.DisposedEventHandlers)))
	for _, id := range b.DisposedEventHandlers {
		w.u64(id)
	}
	return w.buf, nil
}

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *writer) u64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) value(v Value) error {
	w.u8(uint8(v.Type))
	switch v.Type {
	case ValueNull:
	case ValueString:
		w.str(v.String)
	case ValueBool:
		if v.Bool {
			w.u8(1)
		} else {
			w.u8(0)
		}
	case ValueInt64:
		w.u64(uint64(v.Int64))
	case ValueFloat64:
		w.u64(math.Float64bits(v.Float64))
	default:
		return fmt.Errorf("%w: unknown value type %d", ErrInvalidBatch, v.Type)
	}
	return nil
}

func (w *writer) frame(f Frame) error {
	w.u8(uint8(f.Kind))
	switch f.Kind {
	case FrameElement:
		w.u32(f.SubtreeLength)
		w.str(f.Tag)
	case FrameText:
		w.str(f.Text)
	case FrameAttribute, FrameProperty:
		w.str(f.Name)
		return w.value(f.Value)
	case FrameEvent:
		w.str(f.Name)
		w.u64(f.EventID)
	case FrameRegion:
		w.u32(f.SubtreeLength)
	case FrameComponent:
		w.u32(f.ComponentID)
	default:
		return fmt.Errorf("%w: unknown frame kind %d", ErrInvalidBatch, f.Kind)
	}
	return nil
}

func (w *writer) edit(e Edit) error {
	w.u8(uint8(e.Kind))
	switch e.Kind {
	case EditInsert:
		w.u32(e.Sibling)
		w.u32(e.FrameIndex)
	case EditRemove, EditStepIn:
		w.u32(e.Sibling)
	case EditSetAttribute, EditSetProperty:
		w.u32(e.Sibling)
		w.str(e.Name)
		return w.value(e.Value)
	case EditSetEvent:
		w.u32(e.Sibling)
		w.str(e.Name)
		w.u64(e.EventID)
	case EditRemoveAttribute:
		w.u32(e.Sibling)
		w.str(e.Name)
	case EditUpdateText:
		w.u32(e.Sibling)
		w.str(e.Text)
	case EditStepOut:
	case EditSkip:
		w.u32(e.Count)
	default:
		return fmt.Errorf("%w: unknown edit kind %d", ErrInvalidBatch, e.Kind)
	}
	return nil
}

package renderbatch

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// Minimum encoded sizes, used to reject declared counts that cannot fit
// in the remaining bytes before anything is allocated.
const (
	minFrameSize          = 1 + 4
	minDiffSize           = 4 + 4
	minEditSize           = 1
	disposedComponentSize = 4
	disposedHandlerSize   = 8

	maxSubtreeDepth = 1024
)

// Decode parses one render batch payload using DefaultLimits.
func Decode(payload []byte) (*Batch, error) {
	return DecodeWithLimits(payload, DefaultLimits())
}

// DecodeWithLimits parses one render batch payload. It never mutates
// anything outside the returned batch.
func DecodeWithLimits(payload []byte, limits Limits) (*Batch, error) {
	limits = limits.normalized()
	if len(payload) > limits.MaxPayloadBytes {
		return nil, malformed(0, "payload of %d bytes exceeds limit %d", len(payload), limits.MaxPayloadBytes)
	}
	r := &reader{buf: payload, limits: limits}

	magic, err := r.u32()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, malformed(0, "invalid magic 0x%08x", magic)
	}
	version, err := r.u16()
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, malformed(4, "unsupported version %d", version)
	}
	flags, err := r.u16()
	if err != nil {
		return nil, err
	}
	if flags != 0 {
		return nil, malformed(6, "reserved flags set: 0x%04x", flags)
	}
	id, err := r.u64()
	if err != nil {
		return nil, err
	}
	batch := &Batch{ID: id}

	frames, offsets, err := r.frames()
	if err != nil {
		return nil, err
	}
	if err := validateFrameTable(frames, offsets); err != nil {
		return nil, err
	}
	batch.Frames = frames

	diffs, err := r.diffs(frames)
	if err != nil {
		return nil, err
	}
	batch.Diffs = diffs

	batch.DisposedComponents, err = r.disposedComponents()
	if err != nil {
		return nil, err
	}
	batch.DisposedEventHandlers, err = r.disposedHandlers()
	if err != nil {
		return nil, err
	}

	if r.remaining() != 0 {
		return nil, malformed(r.off, "%d trailing bytes", r.remaining())
	}
	return batch, nil
}

type reader struct {
	buf    []byte
	off    int
	limits Limits
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) need(n int, what string) error {
	if n < 0 || r.remaining() < n {
		return malformed(r.off, "truncated %s: need %d bytes, have %d", what, n, r.remaining())
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1, "u8"); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2, "u16"); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off : r.off+2])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4, "u32"); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8, "u64"); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off : r.off+8])
	r.off += 8
	return v, nil
}

func (r *reader) str(what string) (string, error) {
	start := r.off
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if n > r.limits.MaxStringBytes {
		return "", malformed(start, "%s length %d exceeds limit %d", what, n, r.limits.MaxStringBytes)
	}
	if uint64(n) > uint64(r.remaining()) {
		return "", malformed(start, "%s length %d overruns buffer (%d bytes left)", what, n, r.remaining())
	}
	raw := r.buf[r.off : r.off+int(n)]
	if !utf8.Valid(raw) {
		return "", malformed(r.off, "%s is not valid utf-8", what)
	}
	r.off += int(n)
	return string(raw), nil
}

// count reads a section count and rejects values that exceed limit or
// cannot possibly fit in the remaining bytes.
func (r *reader) count(what string, limit uint32, minSize int) (int, error) {
	start := r.off
	n, err := r.u32()
	if err != nil {
		return 0, err
	}
	if n > limit {
		return 0, malformed(start, "%s count %d exceeds limit %d", what, n, limit)
	}
	if uint64(n)*uint64(minSize) > uint64(r.remaining()) {
		return 0, malformed(start, "%s count %d overruns buffer (%d bytes left)", what, n, r.remaining())
	}
	return int(n), nil
}

func (r *reader) value() (Value, error) {
	start := r.off
	tag, err := r.u8()
	if err != nil {
		return Value{}, err
	}
	switch ValueType(tag) {
	case ValueNull:
		return Null(), nil
	case ValueString:
		s, err := r.str("string value")
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case ValueBool:
		b, err := r.u8()
		if err != nil {
			return Value{}, err
		}
		switch b {
		case 0:
			return Bool(false), nil
		case 1:
			return Bool(true), nil
		default:
			return Value{}, malformed(r.off-1, "invalid bool value %d", b)
		}
	case ValueInt64:
		v, err := r.u64()
		if err != nil {
			return Value{}, err
		}
		return Int64(int64(v)), nil
	case ValueFloat64:
		v, err := r.u64()
		if err != nil {
			return Value{}, err
		}
		return Float64(math.Float64frombits(v)), nil
	default:
		return Value{}, malformed(start, "unknown value type %d", tag)
	}
}

func (r *reader) frames() ([]Frame, []int, error) {
	n, err := r.count("frame", r.limits.MaxFrames, minFrameSize)
	if err != nil {
		return nil, nil, err
	}
	frames := make([]Frame, 0, n)
	offsets := make([]int, 0, n)
	for i := 0; i < n; i++ {
		offsets = append(offsets, r.off)
		f, err := r.frame()
		if err != nil {
			return nil, nil, err
		}
		frames = append(frames, f)
	}
	return frames, offsets, nil
}

func (r *reader) frame() (Frame, error) {
	start := r.off
	tag, err := r.u8()
	if err != nil {
		return Frame{}, err
	}
	f := Frame{Kind: FrameKind(tag)}
	switch f.Kind {
	case FrameElement:
		if f.SubtreeLength, err = r.u32(); err != nil {
			return Frame{}, err
		}
		if f.Tag, err = r.str("element tag"); err != nil {
			return Frame{}, err
		}
		if f.Tag == "" {
			return Frame{}, malformed(start, "element frame with empty tag")
		}
	case FrameText:
		if f.Text, err = r.str("text"); err != nil {
			return Frame{}, err
		}
	case FrameAttribute, FrameProperty:
		if f.Name, err = r.str(f.Kind.String() + " name"); err != nil {
			return Frame{}, err
		}
		if f.Name == "" {
			return Frame{}, malformed(start, "%s frame with empty name", f.Kind)
		}
		if f.Value, err = r.value(); err != nil {
			return Frame{}, err
		}
	case FrameEvent:
		if f.Name, err = r.str("event name"); err != nil {
			return Frame{}, err
		}
		if f.Name == "" {
			return Frame{}, malformed(start, "event frame with empty name")
		}
		if f.EventID, err = r.u64(); err != nil {
			return Frame{}, err
		}
		if f.EventID == 0 {
			return Frame{}, malformed(start, "event frame %q with zero event id", f.Name)
		}
	case FrameRegion:
		if f.SubtreeLength, err = r.u32(); err != nil {
			return Frame{}, err
		}
	case FrameComponent:
		if f.ComponentID, err = r.u32(); err != nil {
			return Frame{}, err
		}
	default:
		return Frame{}, malformed(start, "unknown frame kind %d", tag)
	}
	return f, nil
}

func (r *reader) diffs(frames []Frame) ([]Diff, error) {
	n, err := r.count("diff", r.limits.MaxDiffs, minDiffSize)
	if err != nil {
		return nil, err
	}
	diffs := make([]Diff, 0, n)
	var total uint64
	for i := 0; i < n; i++ {
		componentID, err := r.u32()
		if err != nil {
			return nil, err
		}
		start := r.off
		editCount, err := r.count("edit", r.limits.MaxEdits, minEditSize)
		if err != nil {
			return nil, err
		}
		total += uint64(editCount)
		if total > uint64(r.limits.MaxEdits) {
			return nil, malformed(start, "total edit count %d exceeds limit %d", total, r.limits.MaxEdits)
		}
		edits := make([]Edit, 0, editCount)
		for j := 0; j < editCount; j++ {
			e, err := r.edit(frames)
			if err != nil {
				return nil, err
			}
			edits = append(edits, e)
		}
		diffs = append(diffs, Diff{ComponentID: componentID, Edits: edits})
	}
	return diffs, nil
}

func (r *reader) edit(frames []Frame) (Edit, error) {
	start := r.off
	tag, err := r.u8()
	if err != nil {
		return Edit{}, err
	}
	e := Edit{Kind: EditKind(tag)}
	switch e.Kind {
	case EditInsert:
		if e.Sibling, err = r.u32(); err != nil {
			return Edit{}, err
		}
		if e.FrameIndex, err = r.u32(); err != nil {
			return Edit{}, err
		}
		if uint64(e.FrameIndex) >= uint64(len(frames)) {
			return Edit{}, malformed(start, "insert references frame %d of %d", e.FrameIndex, len(frames))
		}
		if kind := frames[e.FrameIndex].Kind; !kind.IsNode() {
			return Edit{}, malformed(start, "insert references %s frame %d", kind, e.FrameIndex)
		}
	case EditRemove, EditStepIn:
		if e.Sibling, err = r.u32(); err != nil {
			return Edit{}, err
		}
	case EditSetAttribute, EditSetProperty:
		if e.Sibling, err = r.u32(); err != nil {
			return Edit{}, err
		}
		if e.Name, err = r.str(e.Kind.String() + " name"); err != nil {
			return Edit{}, err
		}
		if e.Name == "" {
			return Edit{}, malformed(start, "%s with empty name", e.Kind)
		}
		if e.Value, err = r.value(); err != nil {
			return Edit{}, err
		}
	case EditSetEvent:
		if e.Sibling, err = r.u32(); err != nil {
			return Edit{}, err
		}
		if e.Name, err = r.str("event name"); err != nil {
			return Edit{}, err
		}
		if e.Name == "" {
			return Edit{}, malformed(start, "set_event with empty name")
		}
		if e.EventID, err = r.u64(); err != nil {
			return Edit{}, err
		}
	case EditRemoveAttribute:
		if e.Sibling, err = r.u32(); err != nil {
			return Edit{}, err
		}
		if e.Name, err = r.str("attribute name"); err != nil {
			return Edit{}, err
		}
		if e.Name == "" {
			return Edit{}, malformed(start, "remove_attribute with empty name")
		}
	case EditUpdateText:
		if e.Sibling, err = r.u32(); err != nil {
			return Edit{}, err
		}
		if e.Text, err = r.str("text"); err != nil {
			return Edit{}, err
		}
	case EditStepOut:
	case EditSkip:
		if e.Count, err = r.u32(); err != nil {
			return Edit{}, err
		}
	default:
		return Edit{}, malformed(start, "unknown edit kind %d", tag)
	}
	return e, nil
}

func (r *reader) disposedComponents() ([]uint32, error) {
	n, err := r.count("disposed component", r.limits.MaxDisposed, disposedComponentSize)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		v, err := r.u32()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *reader) disposedHandlers() ([]uint64, error) {
	n, err := r.count("disposed event handler", r.limits.MaxDisposed, disposedHandlerSize)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		v, err := r.u64()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// validateFrameTable checks that the table is a sequence of well-formed
// node subtrees: subtree lengths stay inside their parent, member frames
// only appear at the head of an element, regions carry no members.
func validateFrameTable(frames []Frame, offsets []int) error {
	for i := 0; i < len(frames); {
		end, err := validateSubtree(frames, offsets, i, len(frames), 0)
		if err != nil {
			return err
		}
		i = end
	}
	return nil
}

func validateSubtree(frames []Frame, offsets []int, i, limit, depth int) (int, error) {
	if depth > maxSubtreeDepth {
		return 0, malformed(offsets[i], "frame nesting deeper than %d", maxSubtreeDepth)
	}
	f := frames[i]
	switch f.Kind {
	case FrameText, FrameComponent:
		return i + 1, nil
	case FrameElement, FrameRegion:
	default:
		return 0, malformed(offsets[i], "%s frame outside an element", f.Kind)
	}
	if f.SubtreeLength == 0 || uint64(i)+uint64(f.SubtreeLength) > uint64(limit) {
		return 0, malformed(offsets[i], "%s subtree length %d overruns enclosing frames", f.Kind, f.SubtreeLength)
	}
	end := i + int(f.SubtreeLength)
	seenChild := false
	for j := i + 1; j < end; {
		k := frames[j].Kind
		if k.IsMember() {
			if f.Kind == FrameRegion {
				return 0, malformed(offsets[j], "%s frame inside region", k)
			}
			if seenChild {
				return 0, malformed(offsets[j], "%s frame after child frames", k)
			}
			j++
			continue
		}
		seenChild = true
		next, err := validateSubtree(frames, offsets, j, end, depth+1)
		if err != nil {
			return 0, err
		}
		j = next
	}
	return end, nil
}

package renderbatch

import "fmt"

const (
	Magic   uint32 = 0x52424D31 // "RBM1"
	Version uint16 = 1

	// HeaderLen is magic + version + flags + batch_id.
	HeaderLen = 4 + 2 + 2 + 8
)

// FrameKind tags one reference frame.
type FrameKind uint8

const (
	FrameElement   FrameKind = 1
	FrameText      FrameKind = 2
	FrameAttribute FrameKind = 3
	FrameProperty  FrameKind = 4
	FrameEvent     FrameKind = 5
	FrameRegion    FrameKind = 6
	FrameComponent FrameKind = 7
)

func (k FrameKind) String() string {
	switch k {
	case FrameElement:
		return "element"
	case FrameText:
		return "text"
	case FrameAttribute:
		return "attribute"
	case FrameProperty:
		return "property"
	case FrameEvent:
		return "event"
	case FrameRegion:
		return "region"
	case FrameComponent:
		return "component"
	default:
		return fmt.Sprintf("frame(%d)", uint8(k))
	}
}

// IsNode reports whether the frame produces a tree node when inserted.
func (k FrameKind) IsNode() bool {
	switch k {
	case FrameElement, FrameText, FrameRegion, FrameComponent:
		return true
	default:
		return false
	}
}

// IsMember reports whether the frame decorates its enclosing element.
func (k FrameKind) IsMember() bool {
	switch k {
	case FrameAttribute, FrameProperty, FrameEvent:
		return true
	default:
		return false
	}
}

// EditKind tags one edit record inside a diff.
type EditKind uint8

const (
	EditInsert          EditKind = 1
	EditRemove          EditKind = 2
	EditSetAttribute    EditKind = 3
	EditSetProperty     EditKind = 4
	EditSetEvent        EditKind = 5
	EditRemoveAttribute EditKind = 6
	EditUpdateText      EditKind = 7
	EditStepIn          EditKind = 8
	EditStepOut         EditKind = 9
	EditSkip            EditKind = 10
)

func (k EditKind) String() string {
	switch k {
	case EditInsert:
		return "insert"
	case EditRemove:
		return "remove"
	case EditSetAttribute:
		return "set_attribute"
	case EditSetProperty:
		return "set_property"
	case EditSetEvent:
		return "set_event"
	case EditRemoveAttribute:
		return "remove_attribute"
	case EditUpdateText:
		return "update_text"
	case EditStepIn:
		return "step_in"
	case EditStepOut:
		return "step_out"
	case EditSkip:
		return "skip"
	default:
		return fmt.Sprintf("edit(%d)", uint8(k))
	}
}

// ValueType tags an attribute or property value.
type ValueType uint8

const (
	ValueNull    ValueType = 0
	ValueString  ValueType = 1
	ValueBool    ValueType = 2
	ValueInt64   ValueType = 3
	ValueFloat64 ValueType = 4
)

// Value is a decoded attribute/property value. Only the field matching
// Type is meaningful.
type Value struct {
	Type    ValueType
	String  string
	Bool    bool
	Int64   int64
	Float64 float64
}

func Null() Value { return Value{Type: ValueNull} }
func String(v string) Value { return Value{Type: ValueString, String: v} }
func Bool(v bool) Value { return Value{Type: ValueBool, Bool: v} }
func Int64(v int64) Value { return Value{Type: ValueInt64, Int64: v} }
func Float64(v float64) Value { return Value{Type: ValueFloat64, Float64: v} }
func (v Value) IsNull() bool { return v.Type == ValueNull }

// Frame is one entry of the reference frame table. Element and Region
// frames own the SubtreeLength-1 frames that follow them.
type Frame struct {
	Kind          FrameKind
	SubtreeLength uint32
	Tag           string
	Text          string
	Name          string
	Value         Value
	EventID       uint64
	ComponentID   uint32
}

// Edit is one ordered instruction inside a diff.
type Edit struct {
	Kind       EditKind
	Sibling    uint32
	FrameIndex uint32
	Name       string
	Value      Value
	Text       string
	EventID    uint64
	Count      uint32
}

// Diff is the ordered edit list for one component.
type Diff struct {
	ComponentID uint32
	Edits       []Edit
}

// Batch is one decoded render batch. Diffs are replayed in order; the
// disposal sets are processed after every diff.
type Batch struct {
	ID                    uint64
	Frames                []Frame
	Diffs                 []Diff
	DisposedComponents    []uint32
	DisposedEventHandlers []uint64
}

// EditCount returns the number of edits across all diffs.
func (b *Batch) EditCount() int {
	n := 0
	for _, d := range b.Diffs {
		n += len(d.Edits)
	}
	return n
}

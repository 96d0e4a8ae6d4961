package renderbatch

// Subtree describes a node frame with its members and descendants. It
// is flattened into the frame table by Builder.Insert.
type Subtree struct {
	frame    Frame
	members  []Frame
	children []Subtree
}

func Element(tag string, children ...Subtree) Subtree {
	return Subtree{frame: Frame{Kind: FrameElement, Tag: tag}, children: children}
}

func Text(text string) Subtree {
	return Subtree{frame: Frame{Kind: FrameText, Text: text}}
}

func Region(children ...Subtree) Subtree {
	return Subtree{frame: Frame{Kind: FrameRegion}, children: children}
}

func Component(id uint32) Subtree {
	return Subtree{frame: Frame{Kind: FrameComponent, ComponentID: id}}
}

func (s Subtree) Attr(name string, v Value) Subtree {
	s.members = append(append([]Frame(nil), s.members...), Frame{Kind: FrameAttribute, Name: name, Value: v})
	return s
}

func (s Subtree) Prop(name string, v Value) Subtree {
	s.members = append(append([]Frame(nil), s.members...), Frame{Kind: FrameProperty, Name: name, Value: v})
	return s
}

func (s Subtree) On(eventName string, eventID uint64) Subtree {
	s.members = append(append([]Frame(nil), s.members...), Frame{Kind: FrameEvent, Name: eventName, EventID: eventID})
	return s
}

func (s Subtree) flatten(out []Frame) []Frame {
	start := len(out)
	out = append(out, s.frame)
	if s.frame.Kind == FrameElement {
		out = append(out, s.members...)
	}
	for _, child := range s.children {
		out = child.flatten(out)
	}
	if s.frame.Kind == FrameElement || s.frame.Kind == FrameRegion {
		out[start].SubtreeLength = uint32(len(out) - start)
	}
	return out
}

// Builder assembles a Batch edit by edit. Edits issued before the first
// Diff call land in a diff for component 0.
type Builder struct {
	batch Batch
}

func NewBuilder(batchID uint64) *Builder {
	return &Builder{batch: Batch{ID: batchID}}
}

// Diff starts a new diff for componentID; later edits append to it.
func (b *Builder) Diff(componentID uint32) *Builder {
	b.batch.Diffs = append(b.batch.Diffs, Diff{ComponentID: componentID})
	return b
}

func (b *Builder) edit(e Edit) *Builder {
	if len(b.batch.Diffs) == 0 {
		b.Diff(0)
	}
	d := &b.batch.Diffs[len(b.batch.Diffs)-1]
	d.Edits = append(d.Edits, e)
	return b
}

// AddFrames appends s to the frame table and returns its index.
func (b *Builder) AddFrames(s Subtree) uint32 {
	idx := uint32(len(b.batch.Frames))
	b.batch.Frames = s.flatten(b.batch.Frames)
	return idx
}

func (b *Builder) Insert(sibling uint32, s Subtree) *Builder {
	idx := b.AddFrames(s)
	return b.edit(Edit{Kind: EditInsert, Sibling: sibling, FrameIndex: idx})
}

// InsertFrame emits an insert edit for an already added frame index.
func (b *Builder) InsertFrame(sibling, frameIndex uint32) *Builder {
	return b.edit(Edit{Kind: EditInsert, Sibling: sibling, FrameIndex: frameIndex})
}

func (b *Builder) Remove(sibling uint32) *Builder {
	return b.edit(Edit{Kind: EditRemove, Sibling: sibling})
}

func (b *Builder) SetAttribute(sibling uint32, name string, v Value) *Builder {
	return b.edit(Edit{Kind: EditSetAttribute, Sibling: sibling, Name: name, Value: v})
}

func (b *Builder) SetProperty(sibling uint32, name string, v Value) *Builder {
	return b.edit(Edit{Kind: EditSetProperty, Sibling: sibling, Name: name, Value: v})
}

func (b *Builder) SetEvent(sibling uint32, eventName string, eventID uint64) *Builder {
	return b.edit(Edit{Kind: EditSetEvent, Sibling: sibling, Name: eventName, EventID: eventID})
}

func (b *Builder) RemoveAttribute(sibling uint32, name string) *Builder {
	return b.edit(Edit{Kind: EditRemoveAttribute, Sibling: sibling, Name: name})
}

func (b *Builder) UpdateText(sibling uint32, text string) *Builder {
	return b.edit(Edit{Kind: EditUpdateText, Sibling: sibling, Text: text})
}

func (b *Builder) StepIn(sibling uint32) *Builder {
	return b.edit(Edit{Kind: EditStepIn, Sibling: sibling})
}

func (b *Builder) StepOut() *Builder {
	return b.edit(Edit{Kind: EditStepOut})
}

func (b *Builder) Skip(count uint32) *Builder {
	return b.edit(Edit{Kind: EditSkip, Count: count})
}

func (b *Builder) DisposeComponents(ids ...uint32) *Builder {
	b.batch.DisposedComponents = append(b.batch.DisposedComponents, ids...)
	return b
}

func (b *Builder) DisposeEventHandlers(ids ...uint64) *Builder {
	b.batch.DisposedEventHandlers = append(b.batch.DisposedEventHandlers, ids...)
	return b
}

// Batch returns the assembled batch. The builder must not be reused.
func (b *Builder) Batch() *Batch {
	out := b.batch
	return &out
}

func (b *Builder) Encode() ([]byte, error) {
	return Encode(b.Batch())
}

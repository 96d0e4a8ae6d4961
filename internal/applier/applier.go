// Package applier replays decoded render batches against a mirror tree and
// keeps the event router in step with the tree's event descriptors.
package applier

import (
	"errors"
	"fmt"

	"github.com/danmuck/rbmirror/internal/events"
	"github.com/danmuck/rbmirror/internal/mirror"
	"github.com/danmuck/rbmirror/internal/observability"
	"github.com/danmuck/rbmirror/internal/protocol/renderbatch"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Result summarizes one successfully applied batch.
type Result struct {
	BatchID            uint64
	Edits              int
	NodesCreated       int
	NodesDiscarded     int
	ComponentsCreated  int
	ComponentsDisposed int
	EventsRetired      int
}

type Applier struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Applier {
	return &Applier{logger: logger}
}

// Default returns an applier logging through the global logger.
func Default() *Applier {
	return New(log.Logger.With().Str("component", "applier").Logger())
}

type cursor struct {
	parent mirror.NodeID
	base   int
}

// move records where an existing component container sat before an
// insert pulled it into a new subtree.
type move struct {
	node   mirror.NodeID
	parent mirror.NodeID
	index  int
}

type run struct {
	a      *Applier
	batch  *renderbatch.Batch
	tree   *mirror.Tree
	router *events.Router
	res    Result
	moved  []move
}

// Apply replays batch against tree in order: every diff's edits, then the
// disposed components, then the disposed event handlers. The first failing
// edit aborts the batch with an *ApplyError; earlier edits stay applied and
// the caller must treat the tree as diverged.
func (a *Applier) Apply(batch *renderbatch.Batch, tree *mirror.Tree, router *events.Router) (Result, error) {
	r := &run{a: a, batch: batch, tree: tree, router: router}
	r.res.BatchID = batch.ID
	for di, diff := range batch.Diffs {
		if err := r.applyDiff(di, diff); err != nil {
			a.logger.Warn().Err(err).Uint64("batch_id", batch.ID).Msg("batch aborted")
			return r.res, err
		}
	}
	if err := r.disposeComponents(); err != nil {
		return r.res, &ApplyError{BatchID: batch.ID, Phase: PhaseDisposal, Diff: -1, Edit: -1, Err: err}
	}
	r.disposeHandlers()
	a.logger.Debug().
		Uint64("batch_id", batch.ID).
		Int("edits", r.res.Edits).
		Int("nodes_created", r.res.NodesCreated).
		Int("nodes_discarded", r.res.NodesDiscarded).
		Int("events_retired", r.res.EventsRetired).
		Msg("batch applied")
	return r.res, nil
}

func (r *run) applyDiff(di int, diff renderbatch.Diff) error {
	fail := func(ei int, kind renderbatch.EditKind, err error) error {
		return &ApplyError{
			BatchID:     r.batch.ID,
			Phase:       PhaseEdits,
			Diff:        di,
			ComponentID: diff.ComponentID,
			Edit:        ei,
			Kind:        kind,
			Err:         err,
		}
	}
	container, err := r.componentRoot(diff.ComponentID)
	if err != nil {
		return fail(-1, 0, err)
	}
	stack := []cursor{{parent: container}}
	for ei, edit := range diff.Edits {
		cur := &stack[len(stack)-1]
		switch edit.Kind {
		case renderbatch.EditStepIn:
			child, err := r.stepIn(cur, edit.Sibling)
			if err != nil {
				return fail(ei, edit.Kind, err)
			}
			stack = append(stack, cursor{parent: child})
		case renderbatch.EditStepOut:
			if len(stack) == 1 {
				return fail(ei, edit.Kind, &mirror.OutOfRangeEditError{
					Op: "step_out", Parent: cur.parent, Index: -1, Reason: "already at diff root", Err: ErrCursor,
				})
			}
			stack = stack[:len(stack)-1]
		case renderbatch.EditSkip:
			count := r.childCount(cur.parent)
			next := cur.base + int(edit.Count)
			if next > count {
				return fail(ei, edit.Kind, &mirror.OutOfRangeEditError{
					Op: "skip", Parent: cur.parent, Index: next, Count: count, Reason: "skip past last child",
				})
			}
			cur.base = next
		default:
			if err := r.applyEdit(cur, edit); err != nil {
				return fail(ei, edit.Kind, err)
			}
		}
		r.res.Edits++
	}
	return nil
}

// componentRoot returns the container a diff starts from. Unknown
// components are created and appended under the document.
func (r *run) componentRoot(componentID uint32) (mirror.NodeID, error) {
	c, created, err := r.tree.ComponentContainer(componentID)
	if err != nil {
		return mirror.NoNode, err
	}
	if !created {
		return c.ID(), nil
	}
	root := r.tree.Root()
	if err := r.tree.InsertChild(root, r.childCount(root), c.ID()); err != nil {
		return mirror.NoNode, err
	}
	r.res.NodesCreated++
	r.res.ComponentsCreated++
	r.a.logger.Debug().Uint32("component_id", componentID).Uint32("node_id", uint32(c.ID())).Msg("component container created")
	return c.ID(), nil
}

func (r *run) childCount(id mirror.NodeID) int {
	n, err := r.tree.Node(id)
	if err != nil {
		return 0
	}
	switch v := n.(type) {
	case *mirror.Element:
		return v.ChildCount()
	case *mirror.Container:
		return v.ChildCount()
	default:
		return 0
	}
}

func (r *run) stepIn(cur *cursor, sibling uint32) (mirror.NodeID, error) {
	child, err := r.tree.ChildAt(cur.parent, cur.base+int(sibling))
	if err != nil {
		return mirror.NoNode, err
	}
	n, err := r.tree.Node(child)
	if err != nil {
		return mirror.NoNode, err
	}
	if n.Kind() == mirror.KindText {
		return mirror.NoNode, &mirror.OutOfRangeEditError{
			Op: "step_in", Parent: cur.parent, Index: cur.base + int(sibling), Count: r.childCount(cur.parent),
			Reason: "cannot step into a text node",
		}
	}
	return child, nil
}

func (r *run) applyEdit(cur *cursor, edit renderbatch.Edit) error {
	index := cur.base + int(edit.Sibling)
	switch edit.Kind {
	case renderbatch.EditInsert:
		return r.insert(cur.parent, index, edit.FrameIndex)
	case renderbatch.EditRemove:
		return r.remove(cur.parent, index)
	}

	target, err := r.tree.ChildAt(cur.parent, index)
	if err != nil {
		return err
	}
	switch edit.Kind {
	case renderbatch.EditSetAttribute:
		if edit.Value.IsNull() {
			return r.tree.RemoveAttribute(target, edit.Name)
		}
		return r.tree.SetAttribute(target, edit.Name, convertValue(edit.Value))
	case renderbatch.EditSetProperty:
		if edit.Value.IsNull() {
			return r.tree.RemoveProperty(target, edit.Name)
		}
		return r.tree.SetProperty(target, edit.Name, convertValue(edit.Value))
	case renderbatch.EditSetEvent:
		return r.setEvent(target, edit.Name, edit.EventID)
	case renderbatch.EditRemoveAttribute:
		return r.tree.RemoveAttribute(target, edit.Name)
	case renderbatch.EditUpdateText:
		return r.tree.SetText(target, edit.Text)
	default:
		return fmt.Errorf("%w: unsupported edit kind %s", renderbatch.ErrInvalidBatch, edit.Kind)
	}
}

// insert builds frames[frameIndex] and attaches it at index under parent.
// When the frame moves a component that already sat under parent before
// index, index counts that component's old slot.
func (r *run) insert(parent mirror.NodeID, index int, frameIndex uint32) error {
	if int(frameIndex) >= len(r.batch.Frames) {
		return fmt.Errorf("%w: frame index %d outside table of %d", renderbatch.ErrInvalidBatch, frameIndex, len(r.batch.Frames))
	}
	r.moved = r.moved[:0]
	node, err := r.build(int(frameIndex))
	if err == nil && node != mirror.NoNode {
		at := index
		for _, m := range r.moved {
			if m.node == node && m.parent == parent && m.index < index {
				at--
			}
		}
		if count := r.childCount(parent); at > count {
			err = &mirror.OutOfRangeEditError{Op: "insert", Parent: parent, Index: index, Count: count}
		} else {
			err = r.tree.InsertChild(parent, at, node)
		}
	}
	if err != nil {
		if !r.restoreMoved(node) && node != mirror.NoNode {
			r.unbuild(node)
		}
		return err
	}
	r.moved = r.moved[:0]
	return nil
}

// restoreMoved puts every component pulled by a failed insert back in its
// original slot, newest first. It reports whether top was one of them.
func (r *run) restoreMoved(top mirror.NodeID) bool {
	topMoved := false
	for i := len(r.moved) - 1; i >= 0; i-- {
		m := r.moved[i]
		if m.node == top {
			topMoved = true
		}
		n, err := r.tree.Node(m.node)
		if err != nil {
			continue
		}
		if p := n.Parent(); p != mirror.NoNode {
			if _, err := r.tree.RemoveChild(p, r.tree.IndexOf(p, m.node)); err != nil {
				continue
			}
		}
		if err := r.tree.InsertChild(m.parent, m.index, m.node); err != nil {
			observability.RecordConsistencyWarning("restore_component")
			r.a.logger.Warn().Err(err).Uint32("node_id", uint32(m.node)).Msg("component restore failed")
		}
	}
	r.moved = r.moved[:0]
	return topMoved
}

// build constructs the detached subtree for frames[fi] and binds its
// events.
func (r *run) build(fi int) (mirror.NodeID, error) {
	frame := r.batch.Frames[fi]
	switch frame.Kind {
	case renderbatch.FrameText:
		r.res.NodesCreated++
		return r.tree.NewText(frame.Text).ID(), nil
	case renderbatch.FrameComponent:
		return r.placeComponent(frame.ComponentID)
	case renderbatch.FrameRegion:
		region := r.tree.NewRegion()
		r.res.NodesCreated++
		return region.ID(), r.buildChildren(region.ID(), fi)
	case renderbatch.FrameElement:
		el := r.tree.NewElement(frame.Tag)
		r.res.NodesCreated++
		return el.ID(), r.buildChildren(el.ID(), fi)
	default:
		return mirror.NoNode, fmt.Errorf("%w: frame %d (%s) is not a node", renderbatch.ErrInvalidBatch, fi, frame.Kind)
	}
}

func (r *run) buildChildren(parent mirror.NodeID, fi int) error {
	end := fi + int(r.batch.Frames[fi].SubtreeLength)
	for j := fi + 1; j < end; {
		frame := r.batch.Frames[j]
		if frame.Kind.IsMember() {
			if err := r.applyMember(parent, frame); err != nil {
				return err
			}
			j++
			continue
		}
		child, err := r.build(j)
		if child != mirror.NoNode {
			if attachErr := r.tree.InsertChild(parent, r.childCount(parent), child); attachErr != nil && err == nil {
				err = attachErr
			}
		}
		if err != nil {
			return err
		}
		j += subtreeSpan(frame)
	}
	return nil
}

func subtreeSpan(f renderbatch.Frame) int {
	switch f.Kind {
	case renderbatch.FrameElement, renderbatch.FrameRegion:
		return int(f.SubtreeLength)
	default:
		return 1
	}
}

func (r *run) applyMember(el mirror.NodeID, frame renderbatch.Frame) error {
	switch frame.Kind {
	case renderbatch.FrameAttribute:
		if frame.Value.IsNull() {
			return nil
		}
		return r.tree.SetAttribute(el, frame.Name, convertValue(frame.Value))
	case renderbatch.FrameProperty:
		if frame.Value.IsNull() {
			return nil
		}
		return r.tree.SetProperty(el, frame.Name, convertValue(frame.Value))
	case renderbatch.FrameEvent:
		return r.setEvent(el, frame.Name, frame.EventID)
	default:
		return fmt.Errorf("%w: frame %s is not a member", renderbatch.ErrInvalidBatch, frame.Kind)
	}
}

// placeComponent returns the component's container detached and ready to
// be attached at the insert location.
func (r *run) placeComponent(componentID uint32) (mirror.NodeID, error) {
	c, created, err := r.tree.ComponentContainer(componentID)
	if err != nil {
		return mirror.NoNode, err
	}
	if created {
		r.res.NodesCreated++
		r.res.ComponentsCreated++
		return c.ID(), nil
	}
	if parent := c.Parent(); parent != mirror.NoNode {
		index := r.tree.IndexOf(parent, c.ID())
		if _, err := r.tree.RemoveChild(parent, index); err != nil {
			return mirror.NoNode, err
		}
		r.moved = append(r.moved, move{node: c.ID(), parent: parent, index: index})
	}
	return c.ID(), nil
}

// setEvent binds eventID on el, replacing and releasing any prior handler
// for the same name. eventID zero unbinds.
func (r *run) setEvent(el mirror.NodeID, eventName string, eventID uint64) error {
	if _, err := r.tree.Element(el); err != nil {
		return &mirror.OutOfRangeEditError{Op: "set_event", Parent: el, Index: -1, Reason: "target is not an element", Err: err}
	}
	if eventID == 0 {
		if d, _, retired := r.router.Release(el, eventName); retired {
			r.retired(d.EventID())
		}
		_, _, err := r.tree.RemoveEvent(el, eventName)
		return err
	}
	if r.router.IsRetired(eventID) {
		return &events.RetiredEventError{EventID: eventID}
	}
	d, err := mirror.NewEventDescriptor(eventName, eventID)
	if err != nil {
		return err
	}
	if prev, ok := r.router.Resolve(el, eventName); ok && prev.EventID() != eventID {
		if _, _, retired := r.router.Release(el, eventName); retired {
			r.retired(prev.EventID())
		}
	}
	if _, _, err := r.router.Bind(el, d); err != nil {
		return err
	}
	_, _, err = r.tree.SetEvent(el, d)
	return err
}

func (r *run) retired(eventID uint64) {
	r.res.EventsRetired++
	r.a.logger.Debug().Uint64("batch_id", r.batch.ID).Uint64("event_id", eventID).Msg("handler retired")
}

func (r *run) remove(parent mirror.NodeID, index int) error {
	child, err := r.tree.RemoveChild(parent, index)
	if err != nil {
		var warn *mirror.ConsistencyWarning
		if errors.As(err, &warn) {
			observability.RecordConsistencyWarning(warn.Op)
			r.a.logger.Warn().Err(err).Uint64("batch_id", r.batch.ID).Uint32("node_id", uint32(parent)).Msg("remove found no child")
			return &mirror.OutOfRangeEditError{
				Op: "remove", Parent: parent, Index: index, Count: r.childCount(parent),
				Reason: "no child at index", Err: err,
			}
		}
		return err
	}
	r.discard(child)
	return nil
}

// discard releases every event binding in a detached subtree and drops it
// from the arena.
func (r *run) discard(id mirror.NodeID) {
	_ = r.tree.Walk(id, func(n mirror.Node) error {
		if el, ok := n.(*mirror.Element); ok {
			for _, eventID := range r.router.ReleaseNode(el.ID(), el.EventNames()) {
				r.retired(eventID)
			}
		}
		return nil
	})
	n, err := r.tree.Discard(id)
	if err != nil {
		r.a.logger.Warn().Err(err).Uint32("node_id", uint32(id)).Msg("discard failed")
		return
	}
	r.res.NodesDiscarded += n
}

// unbuild drops a subtree that failed to attach. Its bindings were never
// visible to readers, so they are unbound without retiring ids.
func (r *run) unbuild(id mirror.NodeID) {
	n, err := r.tree.Node(id)
	if err != nil {
		return
	}
	if parent := n.Parent(); parent != mirror.NoNode {
		if _, err := r.tree.RemoveChild(parent, r.tree.IndexOf(parent, id)); err != nil {
			return
		}
	}
	_ = r.tree.Walk(id, func(n mirror.Node) error {
		if el, ok := n.(*mirror.Element); ok {
			r.router.UnbindNode(el.ID(), el.EventNames())
		}
		return nil
	})
	_, _ = r.tree.Discard(id)
}

func (r *run) disposeComponents() error {
	for _, componentID := range r.batch.DisposedComponents {
		if r.tree.ComponentDisposed(componentID) {
			continue
		}
		id, ok := r.tree.DisposeComponent(componentID)
		r.res.ComponentsDisposed++
		if !ok {
			continue
		}
		n, err := r.tree.Node(id)
		if err != nil {
			return err
		}
		if parent := n.Parent(); parent != mirror.NoNode {
			if _, err := r.tree.RemoveChild(parent, r.tree.IndexOf(parent, id)); err != nil {
				return err
			}
		}
		r.discard(id)
		r.a.logger.Debug().Uint32("component_id", componentID).Msg("component disposed")
	}
	return nil
}

func (r *run) disposeHandlers() {
	for _, eventID := range r.batch.DisposedEventHandlers {
		if r.router.IsRetired(eventID) {
			continue
		}
		r.res.EventsRetired++
		for _, b := range r.router.Retire(eventID) {
			if _, _, err := r.tree.RemoveEvent(b.Node, b.EventName); err != nil {
				observability.RecordConsistencyWarning("dispose_handler")
				r.a.logger.Warn().Err(err).Uint64("event_id", eventID).Uint32("node_id", uint32(b.Node)).Msg("bound node missing")
			}
		}
	}
}

func convertValue(v renderbatch.Value) mirror.Value {
	switch v.Type {
	case renderbatch.ValueBool:
		return mirror.BoolValue(v.Bool)
	case renderbatch.ValueInt64:
		return mirror.IntValue(v.Int64)
	case renderbatch.ValueFloat64:
		return mirror.FloatValue(v.Float64)
	default:
		return mirror.StringValue(v.String)
	}
}

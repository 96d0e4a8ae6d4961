package mirror

import (
	"errors"
	"testing"

	"github.com/danmuck/rbmirror/internal/testutil/testlog"
)

func TestInsertChildAppendBoundary(t *testing.T) {
	testlog.Start(t)
	tree := NewTree()
	root := tree.Root()

	a := tree.NewElement("a")
	if err := tree.InsertChild(root, 0, a.ID()); err != nil {
		t.Fatalf("insert at count: %v", err)
	}
	b := tree.NewElement("b")
	if err := tree.InsertChild(root, 1, b.ID()); err != nil {
		t.Fatalf("append at count: %v", err)
	}

	c := tree.NewElement("c")
	err := tree.InsertChild(root, 3, c.ID())
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	var oor *OutOfRangeEditError
	if !errors.As(err, &oor) || oor.Index != 3 || oor.Count != 2 {
		t.Fatalf("unexpected error detail: %v", err)
	}
	if c.Parent() != NoNode {
		t.Fatalf("rejected node must stay detached")
	}
}

func TestInsertChildKeepsOrder(t *testing.T) {
	testlog.Start(t)
	tree := NewTree()
	root := tree.Root()
	first := tree.NewText("first")
	last := tree.NewText("last")
	mid := tree.NewText("mid")

	for _, step := range []struct {
		id    NodeID
		index int
	}{{first.ID(), 0}, {last.ID(), 1}, {mid.ID(), 1}} {
		if err := tree.InsertChild(root, step.index, step.id); err != nil {
			t.Fatalf("insert %d: %v", step.id, err)
		}
	}

	doc, _ := tree.Node(root)
	got := doc.(*Container).Children()
	want := []NodeID{first.ID(), mid.ID(), last.ID()}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("child %d: got %d want %d", i, got[i], want[i])
		}
	}
	if tree.IndexOf(root, mid.ID()) != 1 {
		t.Fatalf("unexpected index of mid")
	}
}

func TestInsertChildRejectsTextParentAndReattach(t *testing.T) {
	testlog.Start(t)
	tree := NewTree()
	txt := tree.NewText("leaf")
	if err := tree.InsertChild(tree.Root(), 0, txt.ID()); err != nil {
		t.Fatalf("insert text: %v", err)
	}
	el := tree.NewElement("span")
	if err := tree.InsertChild(txt.ID(), 0, el.ID()); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected text parent rejected, got %v", err)
	}
	if err := tree.InsertChild(tree.Root(), 0, txt.ID()); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected attached node rejected, got %v", err)
	}
	if err := tree.InsertChild(NodeID(999), 0, el.ID()); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected missing parent rejected, got %v", err)
	}
}

func TestInsertChildRejectsCycle(t *testing.T) {
	testlog.Start(t)
	tree := NewTree()
	outer := tree.NewElement("div")
	inner := tree.NewElement("span")
	if err := tree.InsertChild(outer.ID(), 0, inner.ID()); err != nil {
		t.Fatalf("insert inner: %v", err)
	}
	if err := tree.InsertChild(inner.ID(), 0, outer.ID()); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected cycle rejected, got %v", err)
	}
}

func TestRemoveMissingChildIsConsistencyWarning(t *testing.T) {
	testlog.Start(t)
	tree := NewTree()
	_, err := tree.RemoveChild(tree.Root(), 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, ErrOutOfRange) {
		t.Fatalf("consistency warning must not be an out-of-range error")
	}
	var w *ConsistencyWarning
	if !errors.As(err, &w) || w.Op != "remove" {
		t.Fatalf("unexpected warning: %v", err)
	}
}

func TestRemoveAndDiscardReleasesSubtree(t *testing.T) {
	testlog.Start(t)
	tree := NewTree()
	div := tree.NewElement("div")
	span := tree.NewElement("span")
	txt := tree.NewText("x")
	if err := tree.InsertChild(span.ID(), 0, txt.ID()); err != nil {
		t.Fatalf("insert text: %v", err)
	}
	if err := tree.InsertChild(div.ID(), 0, span.ID()); err != nil {
		t.Fatalf("insert span: %v", err)
	}
	if err := tree.InsertChild(tree.Root(), 0, div.ID()); err != nil {
		t.Fatalf("insert div: %v", err)
	}
	if tree.Len() != 4 {
		t.Fatalf("expected 4 nodes, got %d", tree.Len())
	}

	removed, err := tree.RemoveChild(tree.Root(), 0)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed != div.ID() || tree.Attached(span.ID()) {
		t.Fatalf("subtree should be detached")
	}
	n, err := tree.Discard(removed)
	if err != nil || n != 3 {
		t.Fatalf("discard: n=%d err=%v", n, err)
	}
	if tree.Len() != 1 {
		t.Fatalf("expected only the document left, got %d", tree.Len())
	}
	if _, err := tree.Node(txt.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected discarded node lookup to warn, got %v", err)
	}
}

func TestDiscardRejectsAttachedNode(t *testing.T) {
	testlog.Start(t)
	tree := NewTree()
	el := tree.NewElement("p")
	if err := tree.InsertChild(tree.Root(), 0, el.ID()); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := tree.Discard(el.ID()); err == nil {
		t.Fatalf("expected attached discard to fail")
	}
}

func TestFindElementByIDTracksAttachment(t *testing.T) {
	testlog.Start(t)
	tree := NewTree()
	btn := tree.NewElement("button")
	if err := tree.SetAttribute(btn.ID(), ElementIDAttribute, StringValue("go")); err != nil {
		t.Fatalf("set id: %v", err)
	}
	if _, ok := tree.FindElementByID("go"); ok {
		t.Fatalf("detached element must not be indexed")
	}
	if err := tree.InsertChild(tree.Root(), 0, btn.ID()); err != nil {
		t.Fatalf("insert: %v", err)
	}
	found, ok := tree.FindElementByID("go")
	if !ok || found != btn {
		t.Fatalf("expected button to be found")
	}

	if err := tree.SetAttribute(btn.ID(), ElementIDAttribute, StringValue("stop")); err != nil {
		t.Fatalf("rename id: %v", err)
	}
	if _, ok := tree.FindElementByID("go"); ok {
		t.Fatalf("old id must be unindexed")
	}
	if _, ok := tree.FindElementByID("stop"); !ok {
		t.Fatalf("new id must be indexed")
	}

	if _, err := tree.RemoveChild(tree.Root(), 0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := tree.FindElementByID("stop"); ok {
		t.Fatalf("removed element must be unindexed")
	}
}

func TestFindElementByIDDuplicateLastWriterWins(t *testing.T) {
	testlog.Start(t)
	tree := NewTree()
	first := tree.NewElement("div")
	second := tree.NewElement("div")
	for i, el := range []*Element{first, second} {
		if err := tree.InsertChild(tree.Root(), i, el.ID()); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tree.SetAttribute(el.ID(), ElementIDAttribute, StringValue("dup")); err != nil {
			t.Fatalf("set id: %v", err)
		}
	}
	found, _ := tree.FindElementByID("dup")
	if found != second {
		t.Fatalf("expected last writer to win")
	}
	if err := tree.RemoveAttribute(first.ID(), ElementIDAttribute); err != nil {
		t.Fatalf("remove attr: %v", err)
	}
	found, ok := tree.FindElementByID("dup")
	if !ok || found != second {
		t.Fatalf("removing the shadowed id must keep the winner indexed")
	}
}

func TestFindElementByIDFallsBackWhenWinnerRemoved(t *testing.T) {
	testlog.Start(t)
	tree := NewTree()
	first := tree.NewElement("button")
	second := tree.NewElement("button")
	for i, el := range []*Element{first, second} {
		if err := tree.SetAttribute(el.ID(), ElementIDAttribute, StringValue("dup")); err != nil {
			t.Fatalf("set id: %v", err)
		}
		if err := tree.InsertChild(tree.Root(), i, el.ID()); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if found, _ := tree.FindElementByID("dup"); found != second {
		t.Fatalf("expected second button to win")
	}

	if _, err := tree.RemoveChild(tree.Root(), 1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	found, ok := tree.FindElementByID("dup")
	if !ok || found != first {
		t.Fatalf("expected remaining attached button, got %v ok=%v", found, ok)
	}

	if _, err := tree.RemoveChild(tree.Root(), 0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := tree.FindElementByID("dup"); ok {
		t.Fatalf("no attached holder should remain")
	}
}

func TestSetEventReturnsPrevious(t *testing.T) {
	testlog.Start(t)
	tree := NewTree()
	el := tree.NewElement("button")
	first, _ := NewEventDescriptor("click", 1)
	second, _ := NewEventDescriptor("click", 2)

	if _, had, err := tree.SetEvent(el.ID(), first); err != nil || had {
		t.Fatalf("first bind: had=%v err=%v", had, err)
	}
	prev, had, err := tree.SetEvent(el.ID(), second)
	if err != nil || !had || prev.EventID() != 1 {
		t.Fatalf("rebind: prev=%+v had=%v err=%v", prev, had, err)
	}
	if d, _ := el.Event("click"); d.EventID() != 2 {
		t.Fatalf("expected replacement descriptor, got %d", d.EventID())
	}
	if _, _, err := tree.SetEvent(el.ID(), EventDescriptor{}); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("expected zero descriptor rejected, got %v", err)
	}
}

func TestNewEventDescriptorValidates(t *testing.T) {
	if _, err := NewEventDescriptor(" ", 1); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("expected empty name rejected, got %v", err)
	}
	if _, err := NewEventDescriptor("click", 0); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("expected zero id rejected, got %v", err)
	}
}

func TestSetTextRequiresTextNode(t *testing.T) {
	testlog.Start(t)
	tree := NewTree()
	el := tree.NewElement("p")
	txt := tree.NewText("a")
	if err := tree.SetText(txt.ID(), "b"); err != nil || txt.Text() != "b" {
		t.Fatalf("set text: %v text=%q", err, txt.Text())
	}
	if err := tree.SetText(el.ID(), "b"); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected element rejected, got %v", err)
	}
}

func TestComponentContainerLifecycle(t *testing.T) {
	testlog.Start(t)
	tree := NewTree()
	c, created, err := tree.ComponentContainer(4)
	if err != nil || !created || c.ComponentID() != 4 {
		t.Fatalf("create: c=%+v created=%v err=%v", c, created, err)
	}
	again, created, err := tree.ComponentContainer(4)
	if err != nil || created || again != c {
		t.Fatalf("lookup should return the same container")
	}
	id, ok := tree.DisposeComponent(4)
	if !ok || id != c.ID() || !tree.ComponentDisposed(4) {
		t.Fatalf("dispose: id=%d ok=%v", id, ok)
	}
	if _, _, err := tree.ComponentContainer(4); !errors.Is(err, ErrComponentDisposed) {
		t.Fatalf("expected ErrComponentDisposed, got %v", err)
	}
	if _, ok := tree.DisposeComponent(4); ok {
		t.Fatalf("second disposal should find nothing registered")
	}
}

package mirror

import "fmt"

// ElementIDAttribute is the attribute FindElementByID indexes.
const ElementIDAttribute = "id"

// Tree is an arena of nodes rooted at a document container.
type Tree struct {
	nodes       map[NodeID]Node
	next        NodeID
	root        NodeID
	components  map[uint32]NodeID
	disposed    map[uint32]struct{}
	// byElementID holds attached holders of each id, latest writer last.
	byElementID map[string][]NodeID
}

func NewTree() *Tree {
	t := &Tree{
		nodes:       make(map[NodeID]Node),
		components:  make(map[uint32]NodeID),
		disposed:    make(map[uint32]struct{}),
		byElementID: make(map[string][]NodeID),
	}
	root := &Container{kind: KindDocument}
	t.add(root)
	t.root = root.id
	return t
}

func (t *Tree) add(n Node) {
	t.next++
	n.base().id = t.next
	t.nodes[t.next] = n
}

// Root returns the document container handle.
func (t *Tree) Root() NodeID { return t.root }

// Len returns the number of nodes in the arena, attached or not.
func (t *Tree) Len() int { return len(t.nodes) }

// Node resolves a handle. Unknown handles yield a ConsistencyWarning.
func (t *Tree) Node(id NodeID) (Node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, &ConsistencyWarning{Op: "lookup", Node: id, Index: -1}
	}
	return n, nil
}

// Element resolves a handle that must name an element.
func (t *Tree) Element(id NodeID) (*Element, error) {
	n, err := t.Node(id)
	if err != nil {
		return nil, err
	}
	el, ok := n.(*Element)
	if !ok {
		return nil, &ConsistencyWarning{Op: "lookup", Node: id, Index: -1, Reason: fmt.Sprintf("%s is not an element", n.Kind())}
	}
	return el, nil
}

// FindElementByID returns the attached element whose id attribute equals
// logicalID. With duplicate ids the most recently attached or updated
// element wins.
func (t *Tree) FindElementByID(logicalID string) (*Element, bool) {
	holders := t.byElementID[logicalID]
	if len(holders) == 0 {
		return nil, false
	}
	el, ok := t.nodes[holders[len(holders)-1]].(*Element)
	return el, ok
}

// Component returns the container registered for componentID.
func (t *Tree) Component(componentID uint32) (NodeID, bool) {
	id, ok := t.components[componentID]
	return id, ok
}

func (t *Tree) ComponentDisposed(componentID uint32) bool {
	_, ok := t.disposed[componentID]
	return ok
}

// Attached reports whether id is reachable from the document root.
func (t *Tree) Attached(id NodeID) bool {
	for id != NoNode {
		if id == t.root {
			return true
		}
		n, ok := t.nodes[id]
		if !ok {
			return false
		}
		id = n.Parent()
	}
	return false
}

// NewElement allocates a detached element.
func (t *Tree) NewElement(tag string) *Element {
	el := &Element{
		Container:  Container{kind: KindElement},
		tag:        tag,
		attributes: make(map[string]Value),
		properties: make(map[string]Value),
		events:     make(map[string]EventDescriptor),
	}
	t.add(el)
	return el
}

// NewText allocates a detached text node.
func (t *Tree) NewText(text string) *Text {
	n := &Text{text: text}
	t.add(n)
	return n
}

// NewRegion allocates a detached logical region.
func (t *Tree) NewRegion() *Container {
	c := &Container{kind: KindRegion}
	t.add(c)
	return c
}

// Component containers are created once per id and stay registered until
// disposed or discarded. created reports whether this call allocated it.
func (t *Tree) ComponentContainer(componentID uint32) (c *Container, created bool, err error) {
	if _, gone := t.disposed[componentID]; gone {
		return nil, false, fmt.Errorf("%w: component %d", ErrComponentDisposed, componentID)
	}
	if id, ok := t.components[componentID]; ok {
		return t.nodes[id].(*Container), false, nil
	}
	c = &Container{kind: KindComponent, componentID: componentID}
	t.add(c)
	t.components[componentID] = c.id
	return c, true, nil
}

// DisposeComponent retires componentID. Later references to it fail with
// ErrComponentDisposed. The returned handle is the component's container
// when one was still registered.
func (t *Tree) DisposeComponent(componentID uint32) (NodeID, bool) {
	t.disposed[componentID] = struct{}{}
	id, ok := t.components[componentID]
	if ok {
		delete(t.components, componentID)
	}
	return id, ok
}

func (t *Tree) containerOf(op string, id NodeID) (*Container, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, outOfRange(op, id, -1, 0, "parent does not exist")
	}
	hc, ok := n.(hasContainer)
	if !ok {
		return nil, outOfRange(op, id, -1, 0, fmt.Sprintf("%s node cannot hold children", n.Kind()))
	}
	return hc.container(), nil
}

// ChildAt returns the handle at index under parent.
func (t *Tree) ChildAt(parent NodeID, index int) (NodeID, error) {
	c, err := t.containerOf("child", parent)
	if err != nil {
		return NoNode, err
	}
	if index < 0 || index >= len(c.children) {
		return NoNode, outOfRange("child", parent, index, len(c.children), "no child at index")
	}
	return c.children[index], nil
}

// IndexOf returns the position of child under parent, or -1.
func (t *Tree) IndexOf(parent, child NodeID) int {
	c, err := t.containerOf("index", parent)
	if err != nil {
		return -1
	}
	for i, id := range c.children {
		if id == child {
			return i
		}
	}
	return -1
}

// InsertChild attaches the detached node child at index under parent.
// index == ChildCount appends; anything larger is an OutOfRangeEditError.
func (t *Tree) InsertChild(parent NodeID, index int, child NodeID) error {
	c, err := t.containerOf("insert", parent)
	if err != nil {
		return err
	}
	if index < 0 || index > len(c.children) {
		return outOfRange("insert", parent, index, len(c.children), "")
	}
	n, ok := t.nodes[child]
	if !ok {
		return outOfRange("insert", parent, index, len(c.children), fmt.Sprintf("node %d does not exist", child))
	}
	if child == t.root || n.Parent() != NoNode {
		return outOfRange("insert", parent, index, len(c.children), fmt.Sprintf("node %d is already attached", child))
	}
	if t.isAncestor(child, parent) {
		return outOfRange("insert", parent, index, len(c.children), fmt.Sprintf("node %d would contain itself", child))
	}
	c.children = append(c.children, NoNode)
	copy(c.children[index+1:], c.children[index:])
	c.children[index] = child
	n.base().parent = parent
	if t.Attached(parent) {
		t.indexSubtree(child)
	}
	return nil
}

// RemoveChild detaches the child at index under parent and returns it.
// The subtree stays in the arena until Discard. A missing child yields
// a ConsistencyWarning rather than an OutOfRangeEditError.
func (t *Tree) RemoveChild(parent NodeID, index int) (NodeID, error) {
	c, err := t.containerOf("remove", parent)
	if err != nil {
		return NoNode, err
	}
	if index < 0 || index >= len(c.children) {
		return NoNode, &ConsistencyWarning{Op: "remove", Node: parent, Index: index, Reason: fmt.Sprintf("parent has %d children", len(c.children))}
	}
	child := c.children[index]
	if t.Attached(parent) {
		t.unindexSubtree(child)
	}
	c.children = append(c.children[:index], c.children[index+1:]...)
	t.nodes[child].base().parent = NoNode
	return child, nil
}

// Discard drops a detached subtree from the arena and returns how many
// nodes were released. Component containers inside it are unregistered.
func (t *Tree) Discard(id NodeID) (int, error) {
	n, ok := t.nodes[id]
	if !ok {
		return 0, &ConsistencyWarning{Op: "discard", Node: id, Index: -1}
	}
	if n.Parent() != NoNode || id == t.root {
		return 0, fmt.Errorf("mirror: discard of attached node %d", id)
	}
	released := 0
	_ = t.Walk(id, func(n Node) error {
		if c, ok := n.(*Container); ok && c.kind == KindComponent {
			if t.components[c.componentID] == c.id {
				delete(t.components, c.componentID)
			}
		}
		released++
		return nil
	})
	t.collect(id)
	return released, nil
}

func (t *Tree) collect(id NodeID) {
	if hc, ok := t.nodes[id].(hasContainer); ok {
		for _, child := range hc.container().children {
			t.collect(child)
		}
	}
	delete(t.nodes, id)
}

// Walk visits id and its descendants in pre-order. A non-nil error from
// fn stops the walk.
func (t *Tree) Walk(id NodeID, fn func(Node) error) error {
	n, ok := t.nodes[id]
	if !ok {
		return &ConsistencyWarning{Op: "walk", Node: id, Index: -1}
	}
	if err := fn(n); err != nil {
		return err
	}
	if hc, ok := n.(hasContainer); ok {
		for _, child := range hc.container().children {
			if err := t.Walk(child, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tree) isAncestor(candidate, id NodeID) bool {
	for id != NoNode {
		if id == candidate {
			return true
		}
		n, ok := t.nodes[id]
		if !ok {
			return false
		}
		id = n.Parent()
	}
	return false
}

func (t *Tree) indexSubtree(id NodeID) {
	_ = t.Walk(id, func(n Node) error {
		if el, ok := n.(*Element); ok {
			if v, ok := el.attributes[ElementIDAttribute]; ok {
				t.index(v.Text(), el.id)
			}
		}
		return nil
	})
}

func (t *Tree) unindexSubtree(id NodeID) {
	_ = t.Walk(id, func(n Node) error {
		if el, ok := n.(*Element); ok {
			if v, ok := el.attributes[ElementIDAttribute]; ok {
				t.unindex(v.Text(), el.id)
			}
		}
		return nil
	})
}

func (t *Tree) index(logicalID string, id NodeID) {
	t.unindex(logicalID, id)
	t.byElementID[logicalID] = append(t.byElementID[logicalID], id)
}

func (t *Tree) unindex(logicalID string, id NodeID) {
	holders := t.byElementID[logicalID]
	for i, h := range holders {
		if h != id {
			continue
		}
		holders = append(holders[:i], holders[i+1:]...)
		if len(holders) == 0 {
			delete(t.byElementID, logicalID)
		} else {
			t.byElementID[logicalID] = holders
		}
		return
	}
}

func (t *Tree) element(op string, id NodeID) (*Element, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, outOfRange(op, id, -1, 0, "node does not exist")
	}
	el, ok := n.(*Element)
	if !ok {
		return nil, outOfRange(op, id, -1, 0, fmt.Sprintf("%s node is not an element", n.Kind()))
	}
	return el, nil
}

// SetAttribute overwrites or creates an attribute.
func (t *Tree) SetAttribute(id NodeID, name string, v Value) error {
	el, err := t.element("set_attribute", id)
	if err != nil {
		return err
	}
	if name == ElementIDAttribute {
		attached := t.Attached(id)
		if old, ok := el.attributes[name]; ok && attached {
			t.unindex(old.Text(), id)
		}
		if attached {
			t.index(v.Text(), id)
		}
	}
	el.attributes[name] = v
	return nil
}

// RemoveAttribute deletes an attribute; removing an absent key is a no-op.
func (t *Tree) RemoveAttribute(id NodeID, name string) error {
	el, err := t.element("remove_attribute", id)
	if err != nil {
		return err
	}
	if old, ok := el.attributes[name]; ok && name == ElementIDAttribute {
		t.unindex(old.Text(), id)
	}
	delete(el.attributes, name)
	return nil
}

func (t *Tree) SetProperty(id NodeID, name string, v Value) error {
	el, err := t.element("set_property", id)
	if err != nil {
		return err
	}
	el.properties[name] = v
	return nil
}

func (t *Tree) RemoveProperty(id NodeID, name string) error {
	el, err := t.element("remove_property", id)
	if err != nil {
		return err
	}
	delete(el.properties, name)
	return nil
}

// SetEvent replaces the descriptor for d's event name and returns the one
// it replaced, if any.
func (t *Tree) SetEvent(id NodeID, d EventDescriptor) (EventDescriptor, bool, error) {
	el, err := t.element("set_event", id)
	if err != nil {
		return EventDescriptor{}, false, err
	}
	if d.id == 0 || d.name == "" {
		return EventDescriptor{}, false, fmt.Errorf("%w: zero-value descriptor", ErrInvalidDescriptor)
	}
	prev, had := el.events[d.name]
	el.events[d.name] = d
	return prev, had, nil
}

// RemoveEvent deletes the descriptor bound to eventName and returns it.
func (t *Tree) RemoveEvent(id NodeID, eventName string) (EventDescriptor, bool, error) {
	el, err := t.element("remove_event", id)
	if err != nil {
		return EventDescriptor{}, false, err
	}
	prev, had := el.events[eventName]
	delete(el.events, eventName)
	return prev, had, nil
}

// SetText replaces the payload of a text node.
func (t *Tree) SetText(id NodeID, text string) error {
	n, ok := t.nodes[id]
	if !ok {
		return outOfRange("update_text", id, -1, 0, "node does not exist")
	}
	tn, ok := n.(*Text)
	if !ok {
		return outOfRange("update_text", id, -1, 0, fmt.Sprintf("%s node is not text", n.Kind()))
	}
	tn.text = text
	return nil
}

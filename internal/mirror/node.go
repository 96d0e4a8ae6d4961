package mirror

import (
	"fmt"
	"sort"
	"strings"
)

// NodeID is a stable arena handle. Zero means "no node".
type NodeID uint32

const NoNode NodeID = 0

// Kind enumerates node variants. The set is fixed by the wire protocol.
type Kind uint8

const (
	KindDocument Kind = iota + 1
	KindComponent
	KindRegion
	KindElement
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindComponent:
		return "component"
	case KindRegion:
		return "region"
	case KindElement:
		return "element"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Node is implemented by *Container, *Element and *Text only.
type Node interface {
	ID() NodeID
	Kind() Kind
	// Parent is a non-owning back-reference; NoNode when detached.
	Parent() NodeID
	base() *nodeBase
}

type nodeBase struct {
	id     NodeID
	parent NodeID
}

func (n *nodeBase) ID() NodeID { return n.id }
func (n *nodeBase) Parent() NodeID { return n.parent }
func (n *nodeBase) base() *nodeBase { return n }

// Container owns an ordered list of children. Document, component and
// region nodes are plain containers; elements embed one.
type Container struct {
	nodeBase
	kind        Kind
	componentID uint32
	children    []NodeID
}

func (c *Container) Kind() Kind { return c.kind }

// ComponentID is meaningful for component containers only.
func (c *Container) ComponentID() uint32 { return c.componentID }

func (c *Container) ChildCount() int { return len(c.children) }

// Children returns a copy of the child handles in render order.
func (c *Container) Children() []NodeID {
	return append([]NodeID(nil), c.children...)
}

func (c *Container) container() *Container { return c }

// Element is a tagged container with attributes, properties and events.
type Element struct {
	Container
	tag        string
	attributes map[string]Value
	properties map[string]Value
	events     map[string]EventDescriptor
}

func (e *Element) Tag() string { return e.tag }

func (e *Element) Attribute(name string) (Value, bool) {
	v, ok := e.attributes[name]
	return v, ok
}

func (e *Element) Property(name string) (Value, bool) {
	v, ok := e.properties[name]
	return v, ok
}

func (e *Element) Event(eventName string) (EventDescriptor, bool) {
	d, ok := e.events[eventName]
	return d, ok
}

func (e *Element) Attributes() map[string]Value { return copyValues(e.attributes) }
func (e *Element) Properties() map[string]Value { return copyValues(e.properties) }

func (e *Element) Events() map[string]EventDescriptor {
	out := make(map[string]EventDescriptor, len(e.events))
	for k, v := range e.events {
		out[k] = v
	}
	return out
}

// EventNames returns bound event names in sorted order.
func (e *Element) EventNames() []string {
	names := make([]string, 0, len(e.events))
	for name := range e.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Text is a leaf holding character data.
type Text struct {
	nodeBase
	text string
}

func (t *Text) Kind() Kind { return KindText }
func (t *Text) Text() string { return t.text }

// EventDescriptor binds one event name on one element to the
// server-assigned handler id. It is immutable once constructed.
type EventDescriptor struct {
	name string
	id   uint64
}

func NewEventDescriptor(eventName string, eventID uint64) (EventDescriptor, error) {
	if strings.TrimSpace(eventName) == "" {
		return EventDescriptor{}, fmt.Errorf("%w: empty event name", ErrInvalidDescriptor)
	}
	if eventID == 0 {
		return EventDescriptor{}, fmt.Errorf("%w: zero event id for %q", ErrInvalidDescriptor, eventName)
	}
	return EventDescriptor{name: eventName, id: eventID}, nil
}

func (d EventDescriptor) EventName() string { return d.name }
func (d EventDescriptor) EventID() uint64 { return d.id }

func copyValues(in map[string]Value) map[string]Value {
	out := make(map[string]Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type hasContainer interface {
	container() *Container
}

// Package events keeps the (element, event name) → handler id bindings
// for one mirror tree and packages captured interactions for upstream
// dispatch. It performs no I/O.
package events

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/rbmirror/internal/mirror"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownEvent = errors.New("events: no handler bound")
	ErrRetiredEvent = errors.New("events: handler id retired")
)

// UnknownEventError is returned when dispatch or resolve finds no binding.
type UnknownEventError struct {
	Node      mirror.NodeID
	EventName string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("events: no %q handler bound on node %d", e.EventName, e.Node)
}

func (e *UnknownEventError) Is(target error) bool { return target == ErrUnknownEvent }

// RetiredEventError is returned when a retired handler id is bound again.
type RetiredEventError struct {
	EventID uint64
}

func (e *RetiredEventError) Error() string {
	return fmt.Sprintf("events: handler id %d was retired", e.EventID)
}

func (e *RetiredEventError) Is(target error) bool { return target == ErrRetiredEvent }

// Binding names one bound handler slot.
type Binding struct {
	Node      mirror.NodeID
	EventName string
}

// OutboundCall is the value handed to the transport for one dispatch.
type OutboundCall struct {
	TargetEventID uint64
	EventName     string
	ArgsPayload   []byte
}

// Router is owned by one session and, like the tree, carries no locking.
type Router struct {
	bindings map[Binding]mirror.EventDescriptor
	byEvent  map[uint64]map[Binding]struct{}
	retired  map[uint64]struct{}
}

func NewRouter() *Router {
	return &Router{
		bindings: make(map[Binding]mirror.EventDescriptor),
		byEvent:  make(map[uint64]map[Binding]struct{}),
		retired:  make(map[uint64]struct{}),
	}
}

// Bind installs d for (node, d.EventName()) and returns the descriptor it
// replaced. Retired ids cannot be bound.
func (r *Router) Bind(node mirror.NodeID, d mirror.EventDescriptor) (mirror.EventDescriptor, bool, error) {
	if _, gone := r.retired[d.EventID()]; gone {
		return mirror.EventDescriptor{}, false, &RetiredEventError{EventID: d.EventID()}
	}
	key := Binding{Node: node, EventName: d.EventName()}
	prev, had := r.bindings[key]
	if had {
		r.dropIndex(prev.EventID(), key)
	}
	r.bindings[key] = d
	set, ok := r.byEvent[d.EventID()]
	if !ok {
		set = make(map[Binding]struct{})
		r.byEvent[d.EventID()] = set
	}
	set[key] = struct{}{}
	return prev, had, nil
}

// Resolve returns the descriptor bound for (node, eventName).
func (r *Router) Resolve(node mirror.NodeID, eventName string) (mirror.EventDescriptor, bool) {
	d, ok := r.bindings[Binding{Node: node, EventName: eventName}]
	return d, ok
}

// Unbind removes one binding and returns it.
func (r *Router) Unbind(node mirror.NodeID, eventName string) (mirror.EventDescriptor, bool) {
	key := Binding{Node: node, EventName: eventName}
	d, ok := r.bindings[key]
	if !ok {
		return mirror.EventDescriptor{}, false
	}
	delete(r.bindings, key)
	r.dropIndex(d.EventID(), key)
	return d, true
}

// UnbindNode removes every binding held by node and returns how many
// were dropped.
func (r *Router) UnbindNode(node mirror.NodeID, eventNames []string) int {
	n := 0
	for _, name := range eventNames {
		if _, ok := r.Unbind(node, name); ok {
			n++
		}
	}
	return n
}

// Release unbinds (node, eventName) and retires the handler id once no
// other binding references it. It reports the released descriptor and
// whether its id was retired.
func (r *Router) Release(node mirror.NodeID, eventName string) (mirror.EventDescriptor, bool, bool) {
	d, ok := r.Unbind(node, eventName)
	if !ok {
		return mirror.EventDescriptor{}, false, false
	}
	if len(r.byEvent[d.EventID()]) > 0 {
		return d, true, false
	}
	r.retired[d.EventID()] = struct{}{}
	return d, true, true
}

// ReleaseNode releases every binding node holds for eventNames and
// returns the ids that were retired.
func (r *Router) ReleaseNode(node mirror.NodeID, eventNames []string) []uint64 {
	var retired []uint64
	for _, name := range eventNames {
		if d, _, ok := r.Release(node, name); ok {
			retired = append(retired, d.EventID())
		}
	}
	return retired
}

// Retire marks eventID as permanently disposed and drops every binding
// that still referenced it. Retiring an id twice is a no-op. The returned
// bindings let the caller clear the matching element descriptors.
func (r *Router) Retire(eventID uint64) []Binding {
	if _, gone := r.retired[eventID]; gone {
		return nil
	}
	r.retired[eventID] = struct{}{}
	set := r.byEvent[eventID]
	delete(r.byEvent, eventID)
	if len(set) == 0 {
		return nil
	}
	out := make([]Binding, 0, len(set))
	for key := range set {
		delete(r.bindings, key)
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Node != out[j].Node {
			return out[i].Node < out[j].Node
		}
		return out[i].EventName < out[j].EventName
	})
	log.Debug().Uint64("event_id", eventID).Int("bindings", len(out)).Msg("retired handler with live bindings")
	return out
}

func (r *Router) IsRetired(eventID uint64) bool {
	_, ok := r.retired[eventID]
	return ok
}

// Len returns the number of live bindings.
func (r *Router) Len() int { return len(r.bindings) }

// RetiredCount returns the size of the retired set.
func (r *Router) RetiredCount() int { return len(r.retired) }

// Dispatch packages an interaction on (node, eventName) for upstream
// delivery. args is copied.
func (r *Router) Dispatch(node mirror.NodeID, eventName string, args []byte) (OutboundCall, error) {
	d, ok := r.Resolve(node, eventName)
	if !ok {
		return OutboundCall{}, &UnknownEventError{Node: node, EventName: eventName}
	}
	return OutboundCall{
		TargetEventID: d.EventID(),
		EventName:     eventName,
		ArgsPayload:   append([]byte(nil), args...),
	}, nil
}

func (r *Router) dropIndex(eventID uint64, key Binding) {
	set, ok := r.byEvent[eventID]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(r.byEvent, eventID)
	}
}

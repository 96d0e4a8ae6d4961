package mirror

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/danmuck/rbmirror/internal/codec"
	"github.com/zeebo/blake3"
)

// SnapshotValue is the exported form of a Value.
type SnapshotValue struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// SnapshotEvent is the exported form of an EventDescriptor.
type SnapshotEvent struct {
	Name    string `json:"name"`
	EventID uint64 `json:"event_id"`
}

// SnapshotNode is a detached, read-only copy of one node and its subtree.
type SnapshotNode struct {
	ID          NodeID                   `json:"id"`
	Kind        string                   `json:"kind"`
	ComponentID uint32                   `json:"component_id,omitempty"`
	Tag         string                   `json:"tag,omitempty"`
	Text        string                   `json:"text,omitempty"`
	Attributes  map[string]SnapshotValue `json:"attributes,omitempty"`
	Properties  map[string]SnapshotValue `json:"properties,omitempty"`
	Events      []SnapshotEvent          `json:"events,omitempty"`
	Children    []SnapshotNode           `json:"children,omitempty"`
}

// Snapshot copies the subtree rooted at id.
func (t *Tree) Snapshot(id NodeID) (SnapshotNode, error) {
	n, err := t.Node(id)
	if err != nil {
		return SnapshotNode{}, err
	}
	return t.snapshot(n), nil
}

func (t *Tree) snapshot(n Node) SnapshotNode {
	out := SnapshotNode{ID: n.ID(), Kind: n.Kind().String()}
	switch v := n.(type) {
	case *Text:
		out.Text = v.text
		return out
	case *Element:
		out.Tag = v.tag
		out.Attributes = snapshotValues(v.attributes)
		out.Properties = snapshotValues(v.properties)
		for _, name := range v.EventNames() {
			out.Events = append(out.Events, SnapshotEvent{Name: name, EventID: v.events[name].id})
		}
		out.Children = t.snapshotChildren(v.children)
	case *Container:
		out.ComponentID = v.componentID
		out.Children = t.snapshotChildren(v.children)
	}
	return out
}

func (t *Tree) snapshotChildren(ids []NodeID) []SnapshotNode {
	if len(ids) == 0 {
		return nil
	}
	out := make([]SnapshotNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.snapshot(t.nodes[id]))
	}
	return out
}

func snapshotValues(in map[string]Value) map[string]SnapshotValue {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]SnapshotValue, len(in))
	for k, v := range in {
		out[k] = SnapshotValue{Kind: v.kind.String(), Text: v.Text()}
	}
	return out
}

// CBOR renders the snapshot with deterministic CBOR encoding.
func (s SnapshotNode) CBOR() ([]byte, error) {
	return codec.Marshal(s)
}

// JSON renders the snapshot as indented JSON.
func (s SnapshotNode) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Digest hashes the structure and content of the snapshot with blake3.
// Arena handles are excluded, so two trees built by different edit
// sequences digest equal when they render the same.
func (s SnapshotNode) Digest() string {
	h := blake3.New()
	s.hash(h)
	return hex.EncodeToString(h.Sum(nil))
}

func (s SnapshotNode) hash(h *blake3.Hasher) {
	writeString(h, s.Kind)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], s.ComponentID)
	_, _ = h.Write(buf[:])
	writeString(h, s.Tag)
	writeString(h, s.Text)
	hashValues(h, s.Attributes)
	hashValues(h, s.Properties)
	binary.BigEndian.PutUint32(buf[:], uint32(len(s.Events)))
	_, _ = h.Write(buf[:])
	for _, e := range s.Events {
		writeString(h, e.Name)
		var id [8]byte
		binary.BigEndian.PutUint64(id[:], e.EventID)
		_, _ = h.Write(id[:])
	}
	binary.BigEndian.PutUint32(buf[:], uint32(len(s.Children)))
	_, _ = h.Write(buf[:])
	for _, c := range s.Children {
		c.hash(h)
	}
}

func hashValues(h *blake3.Hasher, values map[string]SnapshotValue) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(keys)))
	_, _ = h.Write(buf[:])
	for _, k := range keys {
		writeString(h, k)
		writeString(h, values[k].Kind)
		writeString(h, values[k].Text)
	}
}

func writeString(h *blake3.Hasher, s string) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(s)))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(s))
}

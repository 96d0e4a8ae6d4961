package session

import (
	"errors"
	"sync"
	"time"

	"github.com/danmuck/rbmirror/internal/protocol/schema"
)

var ErrOutboxFull = errors.New("session: outbox full")

// Outbound is one encoded frame waiting for the transport.
type Outbound struct {
	Seq         uint64
	MessageType uint32
	// EventID is set for dispatches, BatchID for render acks.
	EventID  uint64
	BatchID  uint64
	Error    string
	Frame    []byte
	QueuedAt time.Time
}

func (o Outbound) Kind() string { return schema.MessageName(o.MessageType) }

// Outbox is a bounded FIFO. Push never blocks.
type Outbox struct {
	mu       sync.Mutex
	items    []Outbound
	capacity int
	seq      uint64
	notify   chan struct{}
}

func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = 1
	}
	return &Outbox{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends item and assigns its sequence number.
func (o *Outbox) Push(item Outbound) (Outbound, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) >= o.capacity {
		return Outbound{}, ErrOutboxFull
	}
	o.seq++
	item.Seq = o.seq
	if item.QueuedAt.IsZero() {
		item.QueuedAt = time.Now()
	}
	o.items = append(o.items, item)
	select {
	case o.notify <- struct{}{}:
	default:
	}
	return item, nil
}

// Drain removes up to max items in FIFO order. max <= 0 drains all.
func (o *Outbox) Drain(max int) []Outbound {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.items)
	if max > 0 && max < n {
		n = max
	}
	out := make([]Outbound, n)
	copy(out, o.items[:n])
	o.items = append(o.items[:0], o.items[n:]...)
	return out
}

// List returns a copy of the queued items without removing them.
func (o *Outbox) List() []Outbound {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Outbound(nil), o.items...)
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// Ready is signalled after a push; a transport waits on it between drains.
func (o *Outbox) Ready() <-chan struct{} { return o.notify }

package session

import (
	"errors"
	"testing"

	"github.com/danmuck/rbmirror/internal/protocol/schema"
	"github.com/danmuck/rbmirror/internal/testutil/testlog"
)

func TestOutboxFIFOAndCapacity(t *testing.T) {
	testlog.Start(t)
	o := NewOutbox(2)
	first, err := o.Push(Outbound{MessageType: schema.MsgRenderAck, BatchID: 1})
	if err != nil || first.Seq != 1 || first.QueuedAt.IsZero() {
		t.Fatalf("first push: %+v %v", first, err)
	}
	if _, err := o.Push(Outbound{MessageType: schema.MsgDispatchEvent, EventID: 7}); err != nil {
		t.Fatalf("second push: %v", err)
	}
	if _, err := o.Push(Outbound{MessageType: schema.MsgRenderAck, BatchID: 2}); !errors.Is(err, ErrOutboxFull) {
		t.Fatalf("expected ErrOutboxFull, got %v", err)
	}

	select {
	case <-o.Ready():
	default:
		t.Fatalf("push should signal readiness")
	}

	if got := o.List(); len(got) != 2 || o.Len() != 2 {
		t.Fatalf("list must not drain")
	}
	drained := o.Drain(1)
	if len(drained) != 1 || drained[0].BatchID != 1 || drained[0].Kind() != "render_ack" {
		t.Fatalf("unexpected drain: %+v", drained)
	}
	rest := o.Drain(0)
	if len(rest) != 1 || rest[0].EventID != 7 || rest[0].Seq != 2 {
		t.Fatalf("unexpected remainder: %+v", rest)
	}
	if o.Len() != 0 {
		t.Fatalf("outbox should be empty")
	}
}

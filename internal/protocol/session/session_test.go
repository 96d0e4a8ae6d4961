package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/rbmirror/internal/applier"
	"github.com/danmuck/rbmirror/internal/events"
	"github.com/danmuck/rbmirror/internal/mirror"
	"github.com/danmuck/rbmirror/internal/protocol/frame"
	rb "github.com/danmuck/rbmirror/internal/protocol/renderbatch"
	"github.com/danmuck/rbmirror/internal/protocol/schema"
	"github.com/danmuck/rbmirror/internal/testutil/testlog"
)

func encode(t *testing.T, b *rb.Builder) []byte {
	t.Helper()
	payload, err := b.Encode()
	if err != nil {
		t.Fatalf("encode batch: %v", err)
	}
	return payload
}

func buttonBatch(t *testing.T, id uint64) []byte {
	return encode(t, rb.NewBuilder(id).
		Insert(0, rb.Element("button", rb.Text("Go")).Attr("id", rb.String("go"))).
		SetEvent(0, "click", 7))
}

func digest(t *testing.T, s *Session) string {
	t.Helper()
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap.Digest()
}

func TestSessionButtonDispatch(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	defer s.Close()

	report, err := s.ApplyPayload(buttonBatch(t, 1))
	if err != nil || report.Outcome != OutcomeApplied || report.Result.Edits != 2 {
		t.Fatalf("apply: %+v %v", report, err)
	}
	el, err := s.FindElementByID("go")
	if err != nil || el.Tag != "button" {
		t.Fatalf("find: %+v %v", el, err)
	}
	d, err := s.Resolve("go", "click")
	if err != nil || d.EventID() != 7 {
		t.Fatalf("resolve: %+v %v", d, err)
	}
	call, err := s.Dispatch("go", "click", []byte("{}"))
	if err != nil || call.TargetEventID != 7 || string(call.ArgsPayload) != "{}" {
		t.Fatalf("dispatch: %+v %v", call, err)
	}

	out := s.Outbox().Drain(0)
	if len(out) != 2 || out[0].MessageType != schema.MsgRenderAck || out[1].MessageType != schema.MsgDispatchEvent {
		t.Fatalf("unexpected outbox: %+v", out)
	}
	ack, err := DecodeRenderAckFrame(readOne(t, out[0].Frame), frame.DefaultLimits())
	if err != nil || ack.BatchID != 1 || ack.Error != "" {
		t.Fatalf("ack: %+v %v", ack, err)
	}
	sent, err := DecodeDispatchFrame(readOne(t, out[1].Frame), frame.DefaultLimits())
	if err != nil || sent.TargetEventID != 7 || string(sent.ArgsPayload) != "{}" {
		t.Fatalf("dispatch frame: %+v %v", sent, err)
	}

	if _, err := s.Dispatch("go", "keydown", nil); !errors.Is(err, events.ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if _, err := s.FindElementByID("missing"); !errors.Is(err, mirror.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionMalformedBatchLeavesTreeUntouched(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	defer s.Close()
	if _, err := s.ApplyPayload(buttonBatch(t, 1)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	before := digest(t, s)
	s.Outbox().Drain(0)

	bad := encode(t, rb.NewBuilder(2).Insert(0, rb.Text("truncated")))
	report, err := s.ApplyPayload(bad[:len(bad)-3])
	if !errors.Is(err, rb.ErrMalformedBatch) || report.Outcome != OutcomeMalformed {
		t.Fatalf("expected malformed batch, got %+v %v", report, err)
	}
	if digest(t, s) != before {
		t.Fatalf("malformed batch changed the tree")
	}
	if s.Status().Desynchronized || s.Outbox().Len() != 0 {
		t.Fatalf("malformed batch must not desync or ack")
	}
}

func TestSessionBatchSequencing(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	defer s.Close()

	if _, err := s.ApplyPayload(buttonBatch(t, 5)); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	nodes := s.Status().Nodes

	report, err := s.ApplyPayload(buttonBatch(t, 5))
	if err != nil || report.Outcome != OutcomeDuplicate {
		t.Fatalf("duplicate: %+v %v", report, err)
	}
	if s.Status().Nodes != nodes {
		t.Fatalf("duplicate batch was reapplied")
	}

	report, err = s.ApplyPayload(encode(t, rb.NewBuilder(7).Remove(0)))
	if !errors.Is(err, ErrBatchOutOfOrder) || report.Outcome != OutcomeOutOfOrder {
		t.Fatalf("expected out of order, got %+v %v", report, err)
	}
	if _, err := s.FindElementByID("go"); err != nil {
		t.Fatalf("out of order batch touched the tree: %v", err)
	}

	if _, err := s.ApplyPayload(encode(t, rb.NewBuilder(6).SetAttribute(0, "title", rb.String("ok")))); err != nil {
		t.Fatalf("next batch: %v", err)
	}
	st := s.Status()
	if st.LastBatchID != 6 || st.BatchesApplied != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}

	acks := s.Outbox().Drain(0)
	if len(acks) != 4 {
		t.Fatalf("expected an ack per batch, got %d", len(acks))
	}
	ack, _ := DecodeRenderAckFrame(readOne(t, acks[2].Frame), frame.DefaultLimits())
	if ack.BatchID != 7 || ack.Error == "" {
		t.Fatalf("out of order ack should carry the error: %+v", ack)
	}
}

func TestSessionAcksBatchZero(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	defer s.Close()

	report, err := s.ApplyPayload(encode(t, rb.NewBuilder(0).Insert(0, rb.Text("a"))))
	if err != nil || report.Outcome != OutcomeApplied {
		t.Fatalf("apply: %+v %v", report, err)
	}
	report, err = s.ApplyPayload(encode(t, rb.NewBuilder(0).Insert(0, rb.Text("a"))))
	if err != nil || report.Outcome != OutcomeDuplicate {
		t.Fatalf("replayed batch 0: %+v %v", report, err)
	}
	if report, err = s.ApplyPayload(encode(t, rb.NewBuilder(1).Insert(0, rb.Text("b")))); err != nil || report.Outcome != OutcomeApplied {
		t.Fatalf("batch 1 after 0: %+v %v", report, err)
	}

	out := s.Outbox().Drain(0)
	if len(out) != 3 {
		t.Fatalf("expected 3 acks, got %d", len(out))
	}
	for i, want := range []uint64{0, 0, 1} {
		ack, err := DecodeRenderAckFrame(readOne(t, out[i].Frame), frame.DefaultLimits())
		if err != nil || ack.BatchID != want || ack.Error != "" {
			t.Fatalf("ack %d: %+v %v", i, ack, err)
		}
	}
}

func TestSessionDesyncAndResync(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	defer s.Close()
	if _, err := s.ApplyPayload(buttonBatch(t, 1)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	_, err := s.ApplyPayload(encode(t, rb.NewBuilder(2).Insert(5, rb.Text("far"))))
	if !errors.Is(err, applier.ErrApplyFailed) || !errors.Is(err, mirror.ErrOutOfRange) {
		t.Fatalf("expected apply failure, got %v", err)
	}
	if _, err := s.FindElementByID("go"); !errors.Is(err, ErrDesynchronized) {
		t.Fatalf("expected reads refused, got %v", err)
	}
	report, err := s.ApplyPayload(encode(t, rb.NewBuilder(3)))
	if !errors.Is(err, ErrDesynchronized) || report.Outcome != OutcomeRefused {
		t.Fatalf("expected batch refused, got %+v %v", report, err)
	}

	if err := s.Resync(); err != nil {
		t.Fatalf("resync: %v", err)
	}
	st := s.Status()
	if st.Desynchronized || st.Sequenced || st.Nodes != 1 || st.Bindings != 0 {
		t.Fatalf("unexpected status after resync: %+v", st)
	}
	if _, err := s.ApplyPayload(buttonBatch(t, 40)); err != nil {
		t.Fatalf("apply after resync: %v", err)
	}
	if _, err := s.FindElementByID("go"); err != nil {
		t.Fatalf("find after resync: %v", err)
	}
}

func TestSessionRunAppliesInOrder(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	if err := s.Enqueue(buttonBatch(t, 1)); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	raw, err := EncodeRenderBatchFrame(9, encode(t, rb.NewBuilder(2).SetAttribute(0, "title", rb.String("two"))), 1, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := s.EnqueueFrame(readOne(t, raw)); err != nil {
		t.Fatalf("enqueue frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Status().LastBatchID != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("batches not applied: %+v", s.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	el, err := s.FindElementByID("go")
	if err != nil || el.Attributes["title"].Text != "two" {
		t.Fatalf("unexpected element: %+v %v", el, err)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSessionCloseDiscardsTree(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	if _, err := s.ApplyPayload(buttonBatch(t, 1)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	s.Close()
	s.Close()
	if err := <-done; err != nil {
		t.Fatalf("run after close: %v", err)
	}
	if err := s.Enqueue([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := s.FindElementByID("go"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Resync(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if st := s.Status(); !st.Closed || st.Nodes != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestSessionDispatchOutboxFull(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.OutboxDepth = 1
	s := New(cfg)
	defer s.Close()
	if _, err := s.ApplyPayload(buttonBatch(t, 1)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := s.Dispatch("go", "click", nil); !errors.Is(err, ErrOutboxFull) {
		t.Fatalf("expected ErrOutboxFull, got %v", err)
	}
	s.Outbox().Drain(0)
	if _, err := s.Dispatch("go", "click", nil); err != nil {
		t.Fatalf("dispatch after drain: %v", err)
	}
}

func TestEnqueueFrameRejectsOutboundTypes(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	defer s.Close()
	raw, err := EncodeRenderAckFrame(1, RenderAck{BatchID: 1}, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("encode ack: %v", err)
	}
	if err := s.EnqueueFrame(readOne(t, raw)); err == nil {
		t.Fatalf("expected render_ack frame rejected inbound")
	}
}

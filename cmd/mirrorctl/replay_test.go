package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/rbmirror/internal/events"
	"github.com/danmuck/rbmirror/internal/protocol/frame"
	rb "github.com/danmuck/rbmirror/internal/protocol/renderbatch"
	"github.com/danmuck/rbmirror/internal/protocol/schema"
	"github.com/danmuck/rbmirror/internal/protocol/session"
	"github.com/danmuck/rbmirror/internal/testutil/testlog"
)

func batchFrame(t *testing.T, msgID uint64, b *rb.Builder) []byte {
	t.Helper()
	payload, err := b.Encode()
	if err != nil {
		t.Fatalf("encode batch: %v", err)
	}
	raw, err := session.EncodeRenderBatchFrame(msgID, payload, 64, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return raw
}

// replayStream holds two batches, an unrelated dispatch frame and a
// batch that fails to apply.
func replayStream(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(batchFrame(t, 1, rb.NewBuilder(1).
		Insert(0, rb.Element("button", rb.Text("Go")).Attr("id", rb.String("go")).On("click", 7))))
	buf.Write(batchFrame(t, 2, rb.NewBuilder(2).
		StepIn(0).
		UpdateText(0, "Going").
		StepOut()))
	dispatch, err := session.EncodeDispatchFrame(3, events.OutboundCall{TargetEventID: 7, EventName: "click"}, 0, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("encode dispatch: %v", err)
	}
	buf.Write(dispatch)
	buf.Write(batchFrame(t, 4, rb.NewBuilder(5)))
	return buf.Bytes()
}

func TestReplaySyncAppliesInOrder(t *testing.T) {
	testlog.Start(t)
	sess := session.New(session.DefaultConfig())
	defer sess.Close()

	stats, err := replaySync(sess, bytes.NewReader(replayStream(t)))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if stats.Frames != 4 || stats.Applied != 2 || stats.Skipped != 1 || stats.Rejected != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	el, err := sess.FindElementByID("go")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(el.Children) != 1 || el.Children[0].Text != "Going" {
		t.Fatalf("unexpected element: %+v", el)
	}
	if st := sess.Status(); st.LastBatchID != 2 || st.Desynchronized {
		t.Fatalf("out of order batch must not desync: %+v", st)
	}
}

func TestReplaySyncTruncatedFrame(t *testing.T) {
	testlog.Start(t)
	sess := session.New(session.DefaultConfig())
	defer sess.Close()

	stream := replayStream(t)
	if _, err := replaySync(sess, bytes.NewReader(stream[:len(stream)-3])); err == nil {
		t.Fatalf("expected truncated frame error")
	}
}

func TestReplayQueuedThroughRunLoop(t *testing.T) {
	testlog.Start(t)
	cfg := session.DefaultConfig()
	cfg.InboxDepth = 1
	sess := session.New(cfg)
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	stats, err := replayQueued(ctx, sess, bytes.NewReader(replayStream(t)), time.Millisecond)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if stats.Frames != 4 || stats.Queued != 3 || stats.Skipped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sess.Outbox().Len() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for acks, outbox=%d", sess.Outbox().Len())
		}
		time.Sleep(time.Millisecond)
	}
	if st := sess.Status(); st.LastBatchID != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestRunOnceWritesTree(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "batches.rbf")
	if err := os.WriteFile(path, replayStream(t), 0o644); err != nil {
		t.Fatalf("write replay: %v", err)
	}

	var out bytes.Buffer
	if err := run([]string{"--once", "--replay", path}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), `"tag": "button"`) || !strings.Contains(out.String(), "Going") {
		t.Fatalf("unexpected tree output: %s", out.String())
	}

	out.Reset()
	if err := run([]string{"--once", "--replay", path, "--format", "digest"}, &out); err != nil {
		t.Fatalf("run digest: %v", err)
	}
	if len(strings.TrimSpace(out.String())) != 64 {
		t.Fatalf("expected hex digest, got %q", out.String())
	}

	if err := run([]string{"--once"}, &out); err == nil {
		t.Fatalf("expected missing replay rejected")
	}
	if err := run([]string{"--once", "--replay", path, "--format", "xml"}, &out); err == nil {
		t.Fatalf("expected unknown format rejected")
	}
}

func TestDrainOutboxWritesFrames(t *testing.T) {
	testlog.Start(t)
	sess := session.New(session.DefaultConfig())
	defer sess.Close()
	if _, err := replaySync(sess, bytes.NewReader(replayStream(t))); err != nil {
		t.Fatalf("replay: %v", err)
	}

	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := drainOutbox(ctx, sess.Outbox(), &out, time.Second); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if sess.Outbox().Len() != 0 {
		t.Fatalf("expected outbox drained")
	}

	r := bytes.NewReader(out.Bytes())
	var acks []uint64
	for r.Len() > 0 {
		f, err := frame.ReadFrame(r, frame.DefaultLimits())
		if err != nil {
			t.Fatalf("read drained frame: %v", err)
		}
		if f.Header.MessageType != schema.MsgRenderAck {
			t.Fatalf("unexpected drained frame type %d", f.Header.MessageType)
		}
		ack, err := session.DecodeRenderAckFrame(f, frame.DefaultLimits())
		if err != nil {
			t.Fatalf("decode ack: %v", err)
		}
		acks = append(acks, ack.BatchID)
	}
	if len(acks) != 3 || acks[0] != 1 || acks[1] != 2 || acks[2] != 5 {
		t.Fatalf("unexpected acks: %v", acks)
	}
}

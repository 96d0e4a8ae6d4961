package main

import (
	"context"
	"io"
	"time"

	"github.com/danmuck/rbmirror/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// drainOutbox writes queued outbound frames to w until ctx is done. A
// final drain runs on shutdown.
func drainOutbox(ctx context.Context, box *session.Outbox, w io.Writer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return flushOutbox(box, w)
		case <-box.Ready():
		case <-ticker.C:
		}
		if err := flushOutbox(box, w); err != nil {
			return err
		}
	}
}

func flushOutbox(box *session.Outbox, w io.Writer) error {
	for _, item := range box.Drain(0) {
		if _, err := w.Write(item.Frame); err != nil {
			return err
		}
		log.Debug().
			Uint64("seq", item.Seq).
			Str("kind", item.Kind()).
			Uint64("batch_id", item.BatchID).
			Uint64("event_id", item.EventID).
			Int("bytes", len(item.Frame)).
			Msg("outbound frame written")
	}
	return nil
}

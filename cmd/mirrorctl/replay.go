package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/rbmirror/internal/protocol/frame"
	"github.com/danmuck/rbmirror/internal/protocol/schema"
	"github.com/danmuck/rbmirror/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

type replayStats struct {
	Frames   int
	Queued   int
	Applied  int
	Rejected int
	Skipped  int
}

// forEachFrame reads transport frames until EOF. A truncated trailing
// frame is an error.
func forEachFrame(r io.Reader, limits frame.Limits, fn func(frame.Frame) error) error {
	for {
		f, err := frame.ReadFrame(r, limits)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read replay frame: %w", err)
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}

// replaySync applies every RenderBatch frame in order on the calling
// goroutine. Rejected batches are counted and logged, not fatal.
func replaySync(sess *session.Session, r io.Reader) (replayStats, error) {
	var stats replayStats
	limits := sess.Config().Frame
	err := forEachFrame(r, limits, func(f frame.Frame) error {
		stats.Frames++
		if f.Header.MessageType != schema.MsgRenderBatch {
			stats.Skipped++
			log.Warn().Str("kind", schema.MessageName(f.Header.MessageType)).Uint64("message_id", f.Header.MessageID).Msg("replay frame skipped")
			return nil
		}
		payload, err := session.DecodeRenderBatchFrame(f, limits)
		if err != nil {
			stats.Rejected++
			log.Warn().Err(err).Uint64("message_id", f.Header.MessageID).Msg("replay frame rejected")
			return nil
		}
		if _, err := sess.ApplyPayload(payload); err != nil {
			stats.Rejected++
			return nil
		}
		stats.Applied++
		return nil
	})
	return stats, err
}

// replayQueued hands frames to the session Run loop, waiting while the
// inbox is full.
func replayQueued(ctx context.Context, sess *session.Session, r io.Reader, retry time.Duration) (replayStats, error) {
	var stats replayStats
	err := forEachFrame(r, sess.Config().Frame, func(f frame.Frame) error {
		stats.Frames++
		for {
			err := sess.EnqueueFrame(f)
			if err == nil {
				stats.Queued++
				return nil
			}
			if !errors.Is(err, session.ErrInboxFull) {
				if errors.Is(err, session.ErrClosed) {
					return err
				}
				stats.Skipped++
				log.Warn().Err(err).Uint64("message_id", f.Header.MessageID).Msg("replay frame not queued")
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retry):
			}
		}
	})
	return stats, err
}

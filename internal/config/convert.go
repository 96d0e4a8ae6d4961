package config

import "github.com/danmuck/rbmirror/internal/protocol/session"

// SessionSettings maps file values onto session defaults. Zero values
// keep the default.
func SessionSettings(cfg MirrorConfig) session.Config {
	out := session.DefaultConfig()
	if cfg.Session.InboxDepth > 0 {
		out.InboxDepth = cfg.Session.InboxDepth
	}
	if cfg.Session.OutboxDepth > 0 {
		out.OutboxDepth = cfg.Session.OutboxDepth
	}
	if cfg.Session.CompressAbove > 0 {
		out.CompressAbove = cfg.Session.CompressAbove
	}
	l := cfg.Limits
	if l.MaxPayloadBytes > 0 {
		out.Batch.MaxPayloadBytes = l.MaxPayloadBytes
	}
	if l.MaxStringBytes > 0 {
		out.Batch.MaxStringBytes = l.MaxStringBytes
	}
	if l.MaxFrames > 0 {
		out.Batch.MaxFrames = l.MaxFrames
	}
	if l.MaxDiffs > 0 {
		out.Batch.MaxDiffs = l.MaxDiffs
	}
	if l.MaxEdits > 0 {
		out.Batch.MaxEdits = l.MaxEdits
	}
	if l.MaxDisposed > 0 {
		out.Batch.MaxDisposed = l.MaxDisposed
	}
	return out
}

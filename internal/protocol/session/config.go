package session

import (
	"github.com/danmuck/rbmirror/internal/protocol/frame"
	"github.com/danmuck/rbmirror/internal/protocol/renderbatch"
)

// Config defines per-session limits and queue depths.
type Config struct {
	Batch renderbatch.Limits
	Frame frame.Limits
	// InboxDepth bounds batches waiting for Run.
	InboxDepth int
	// OutboxDepth bounds frames waiting for the transport.
	OutboxDepth int
	// CompressAbove compresses outbound payloads larger than this many
	// bytes. Zero disables compression.
	CompressAbove int
}

func DefaultConfig() Config {
	return Config{
		Batch:         renderbatch.DefaultLimits(),
		Frame:         frame.DefaultLimits(),
		InboxDepth:    64,
		OutboxDepth:   256,
		CompressAbove: 16 * 1024,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.InboxDepth <= 0 {
		c.InboxDepth = d.InboxDepth
	}
	if c.OutboxDepth <= 0 {
		c.OutboxDepth = d.OutboxDepth
	}
	if c.CompressAbove < 0 {
		c.CompressAbove = 0
	}
	if c.Frame.MaxPayloadBytes == 0 {
		c.Frame.MaxPayloadBytes = d.Frame.MaxPayloadBytes
	}
	if c.Frame.MaxDecompressedBytes == 0 {
		c.Frame.MaxDecompressedBytes = d.Frame.MaxDecompressedBytes
	}
	if c.Frame.MaxHeaderExtBytes == 0 {
		c.Frame.MaxHeaderExtBytes = d.Frame.MaxHeaderExtBytes
	}
	return c
}

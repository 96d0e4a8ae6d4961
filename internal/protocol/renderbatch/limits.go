package renderbatch

// Limits bounds decoder allocations. Zero fields fall back to defaults.
type Limits struct {
	MaxPayloadBytes int
	MaxStringBytes  uint32
	MaxFrames       uint32
	MaxDiffs        uint32
	MaxEdits        uint32
	MaxDisposed     uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
		MaxStringBytes:  1024 * 1024,
		MaxFrames:       1 << 20,
		MaxDiffs:        1 << 16,
		MaxEdits:        1 << 20,
		MaxDisposed:     1 << 20,
	}
}

func (l Limits) normalized() Limits {
	def := DefaultLimits()
	if l.MaxPayloadBytes <= 0 {
		l.MaxPayloadBytes = def.MaxPayloadBytes
	}
	if l.MaxStringBytes == 0 {
		l.MaxStringBytes = def.MaxStringBytes
	}
	if l.MaxFrames == 0 {
		l.MaxFrames = def.MaxFrames
	}
	if l.MaxDiffs == 0 {
		l.MaxDiffs = def.MaxDiffs
	}
	if l.MaxEdits == 0 {
		l.MaxEdits = def.MaxEdits
	}
	if l.MaxDisposed == 0 {
		l.MaxDisposed = def.MaxDisposed
	}
	return l
}

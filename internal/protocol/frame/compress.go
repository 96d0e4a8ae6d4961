package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var ErrDecompressedTooLarge = errors.New("frame: decompressed payload too large")

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error
)

func sharedEncoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		encoder, encoderErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder, encoderErr
}

// Compress replaces f's payload with its zstd encoding and sets
// FlagCompressed. Already compressed frames are returned unchanged.
func Compress(f Frame) (Frame, error) {
	if f.Header.Flags&FlagCompressed != 0 {
		return f, nil
	}
	enc, err := sharedEncoder()
	if err != nil {
		return Frame{}, fmt.Errorf("frame: zstd encoder: %w", err)
	}
	f.Payload = enc.EncodeAll(f.Payload, make([]byte, 0, len(f.Payload)/2+16))
	f.Header.Flags |= FlagCompressed
	return f, nil
}

// Body returns the TLV payload, inflating it when FlagCompressed is set.
// The inflated size is capped by limits.MaxDecompressedBytes.
func Body(f Frame, limits Limits) ([]byte, error) {
	if f.Header.Flags&FlagCompressed == 0 {
		return f.Payload, nil
	}
	dec, err := zstd.NewReader(bytes.NewReader(f.Payload), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("frame: zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := io.ReadAll(io.LimitReader(dec, int64(limits.MaxDecompressedBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("frame: zstd decode: %w", err)
	}
	if uint64(len(out)) > limits.MaxDecompressedBytes {
		return nil, ErrDecompressedTooLarge
	}
	return out, nil
}

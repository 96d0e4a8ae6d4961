package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic   uint32 = 0x52424D46 // "RBMF"
	Version uint16 = 1

	FixedHeaderLen uint16 = 32

	FlagIsResponse uint32 = 0x02
	FlagIsError    uint32 = 0x04
	// FlagCompressed marks a zstd-compressed payload.
	FlagCompressed uint32 = 0x08
)

var (
	ErrShortHeader       = errors.New("frame: short fixed header")
	ErrBadMagic          = errors.New("frame: bad magic")
	ErrUnsupported       = errors.New("frame: unsupported version")
	ErrHeaderLenTooSmall = errors.New("frame: header_len smaller than fixed header")
	ErrHeaderTooLarge    = errors.New("frame: header extension too large")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
)

// Header is the fixed wire header.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

// Frame is one complete wire message. Payload is the TLV body as carried
// on the wire, compressed when FlagCompressed is set.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxHeaderExtBytes uint64
	MaxPayloadBytes   uint64
	// MaxDecompressedBytes caps the inflated size of compressed payloads.
	MaxDecompressedBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxHeaderExtBytes:    4 * 1024,
		MaxPayloadBytes:      8 * 1024 * 1024,
		MaxDecompressedBytes: 32 * 1024 * 1024,
	}
}

// New builds a frame for messageType around a TLV payload.
func New(messageType uint32, messageID uint64, payload []byte) Frame {
	return Frame{
		Header:  Header{Magic: Magic, Version: Version, MessageID: messageID, MessageType: messageType},
		Payload: payload,
	}
}

// ReadFrame reads one frame. Header extension bytes beyond the fixed
// header are skipped; they carry nothing this version understands.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, fmt.Errorf("%w: %#08x", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupported, h.Version)
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}
	extLen := uint64(h.HeaderLen - FixedHeaderLen)
	if extLen > limits.MaxHeaderExtBytes {
		return Frame{}, ErrHeaderTooLarge
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	if extLen > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extLen)); err != nil {
			return Frame{}, err
		}
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = payloadLen

	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if payloadLen > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.MessageID)
	binary.BigEndian.PutUint32(buf[16:20], h.MessageType)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		MessageID:   binary.BigEndian.Uint64(b[8:16]),
		MessageType: binary.BigEndian.Uint32(b[16:20]),
		Flags:       binary.BigEndian.Uint32(b[20:24]),
		PayloadLen:  binary.BigEndian.Uint64(b[24:32]),
	}, nil
}

package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// HeaderLen is field id (u16) + type (u8) + length (u32).
const HeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrTypeMismatch     = errors.New("tlv: field type mismatch")
	ErrInvalidLength    = errors.New("tlv: invalid value length")
)

// Type ids carried in each field header.
const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
)

// Field is one decoded TLV field.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func U32(id uint16, v uint32) Field {
	return Field{ID: id, Type: TypeU32, Value: binary.BigEndian.AppendUint32(nil, v)}
}

func U64(id uint16, v uint64) Field {
	return Field{ID: id, Type: TypeU64, Value: binary.BigEndian.AppendUint64(nil, v)}
}

func String(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

// Bytes copies v into a bytes field.
func Bytes(id uint16, v []byte) Field {
	return Field{ID: id, Type: TypeBytes, Value: append([]byte(nil), v...)}
}

func (f Field) AsU32() (uint32, error) {
	if err := MustType(f, TypeU32); err != nil {
		return 0, err
	}
	if len(f.Value) != 4 {
		return 0, fmt.Errorf("%w: u32 field %d has %d bytes", ErrInvalidLength, f.ID, len(f.Value))
	}
	return binary.BigEndian.Uint32(f.Value), nil
}

func (f Field) AsU64() (uint64, error) {
	if err := MustType(f, TypeU64); err != nil {
		return 0, err
	}
	if len(f.Value) != 8 {
		return 0, fmt.Errorf("%w: u64 field %d has %d bytes", ErrInvalidLength, f.ID, len(f.Value))
	}
	return binary.BigEndian.Uint64(f.Value), nil
}

// AsString rejects values that are not valid UTF-8.
func (f Field) AsString() (string, error) {
	if err := MustType(f, TypeString); err != nil {
		return "", err
	}
	if !utf8.Valid(f.Value) {
		return "", fmt.Errorf("tlv: field %d is not valid utf-8", f.ID)
	}
	return string(f.Value), nil
}

func (f Field) AsBytes() ([]byte, error) {
	if err := MustType(f, TypeBytes); err != nil {
		return nil, err
	}
	return append([]byte(nil), f.Value...), nil
}

func EncodeField(f Field) []byte {
	return appendField(make([]byte, 0, HeaderLen+len(f.Value)), f)
}

func appendField(buf []byte, f Field) []byte {
	buf = binary.BigEndian.AppendUint16(buf, f.ID)
	buf = append(buf, f.Type)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Value)))
	return append(buf, f.Value...)
}

func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0)
	i := 0
	for i < len(payload) {
		if len(payload)-i < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += HeaderLen
		if uint64(len(payload)-i) < uint64(l) {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

func EncodeFields(fields []Field) []byte {
	size := 0
	for _, f := range fields {
		size += HeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		out = appendField(out, f)
	}
	return out
}

// GetField returns the first field with id.
func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func MustType(f Field, expected uint8) error {
	if f.Type != expected {
		return fmt.Errorf("%w: field %d got %d want %d", ErrTypeMismatch, f.ID, f.Type, expected)
	}
	return nil
}

package schema

import (
	"fmt"

	"github.com/danmuck/rbmirror/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type ids carried in the frame header.
const (
	MsgRenderBatch   uint32 = 1
	MsgDispatchEvent uint32 = 2
	MsgRenderAck     uint32 = 3
)

// Field ids.
const (
	FieldBatchPayload uint16 = 1

	FieldEventID   uint16 = 10
	FieldEventName uint16 = 11
	FieldEventArgs uint16 = 12

	FieldBatchID  uint16 = 20
	FieldAckError uint16 = 21
)

func MessageName(messageType uint32) string {
	switch messageType {
	case MsgRenderBatch:
		return "render_batch"
	case MsgDispatchEvent:
		return "dispatch_event"
	case MsgRenderAck:
		return "render_ack"
	default:
		return fmt.Sprintf("message(%d)", messageType)
	}
}

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgRenderBatch: {
		{FieldBatchPayload, tlv.TypeBytes},
	},
	MsgDispatchEvent: {
		{FieldEventID, tlv.TypeU64},
		{FieldEventName, tlv.TypeString},
		{FieldEventArgs, tlv.TypeBytes},
	},
	MsgRenderAck: {
		{FieldBatchID, tlv.TypeU64},
	},
}

// optional fields are type-checked only when present.
var optional = map[uint32][]Requirement{
	MsgRenderAck: {
		{FieldAckError, tlv.TypeString},
	},
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	log.Debug().Str("message", MessageName(messageType)).Int("fields", len(fields)).Msg("schema validate")
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema validate: unknown message type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().Uint32("message_type", messageType).Uint16("field_id", req.ID).Msg("schema validate: missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema validate: type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	for _, opt := range optional[messageType] {
		if f, found := tlv.GetField(fields, opt.ID); found && f.Type != opt.Type {
			return ValidationError{MessageType: messageType, FieldID: opt.ID, Reason: "type mismatch"}
		}
	}
	return nil
}

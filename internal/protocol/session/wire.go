package session

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/danmuck/rbmirror/internal/events"
	"github.com/danmuck/rbmirror/internal/protocol/frame"
	"github.com/danmuck/rbmirror/internal/protocol/schema"
	"github.com/danmuck/rbmirror/internal/protocol/tlv"
)

// RenderAck acknowledges one render batch. Error is empty on success.
// Batch id 0 is a valid id.
type RenderAck struct {
	BatchID uint64
	Error   string
}

func validateCall(call events.OutboundCall) error {
	if call.TargetEventID == 0 {
		return fmt.Errorf("dispatch_event missing event_id")
	}
	if strings.TrimSpace(call.EventName) == "" {
		return fmt.Errorf("dispatch_event missing event_name")
	}
	return nil
}

// EncodeRenderBatchFrame wraps a render-batch payload, compressing it when
// compressAbove is positive and the payload is larger.
func EncodeRenderBatchFrame(messageID uint64, payload []byte, compressAbove int, limits frame.Limits) ([]byte, error) {
	fields := []tlv.Field{tlv.Bytes(schema.FieldBatchPayload, payload)}
	return encodeFrame(messageID, schema.MsgRenderBatch, 0, fields, compressAbove, limits)
}

// DecodeRenderBatchFrame extracts the render-batch payload.
func DecodeRenderBatchFrame(f frame.Frame, limits frame.Limits) ([]byte, error) {
	fields, err := decodeFields(f, schema.MsgRenderBatch, limits)
	if err != nil {
		return nil, err
	}
	field, _ := tlv.GetField(fields, schema.FieldBatchPayload)
	return field.AsBytes()
}

func EncodeDispatchFrame(messageID uint64, call events.OutboundCall, compressAbove int, limits frame.Limits) ([]byte, error) {
	if err := validateCall(call); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		tlv.U64(schema.FieldEventID, call.TargetEventID),
		tlv.String(schema.FieldEventName, call.EventName),
		tlv.Bytes(schema.FieldEventArgs, call.ArgsPayload),
	}
	return encodeFrame(messageID, schema.MsgDispatchEvent, 0, fields, compressAbove, limits)
}

func DecodeDispatchFrame(f frame.Frame, limits frame.Limits) (events.OutboundCall, error) {
	fields, err := decodeFields(f, schema.MsgDispatchEvent, limits)
	if err != nil {
		return events.OutboundCall{}, err
	}
	var call events.OutboundCall
	idField, _ := tlv.GetField(fields, schema.FieldEventID)
	if call.TargetEventID, err = idField.AsU64(); err != nil {
		return events.OutboundCall{}, err
	}
	nameField, _ := tlv.GetField(fields, schema.FieldEventName)
	if call.EventName, err = nameField.AsString(); err != nil {
		return events.OutboundCall{}, err
	}
	argsField, _ := tlv.GetField(fields, schema.FieldEventArgs)
	if call.ArgsPayload, err = argsField.AsBytes(); err != nil {
		return events.OutboundCall{}, err
	}
	if err := validateCall(call); err != nil {
		return events.OutboundCall{}, err
	}
	return call, nil
}

func EncodeRenderAckFrame(messageID uint64, ack RenderAck, limits frame.Limits) ([]byte, error) {
	fields := []tlv.Field{tlv.U64(schema.FieldBatchID, ack.BatchID)}
	flags := frame.FlagIsResponse
	if ack.Error != "" {
		fields = append(fields, tlv.String(schema.FieldAckError, ack.Error))
		flags |= frame.FlagIsError
	}
	return encodeFrame(messageID, schema.MsgRenderAck, flags, fields, 0, limits)
}

func DecodeRenderAckFrame(f frame.Frame, limits frame.Limits) (RenderAck, error) {
	fields, err := decodeFields(f, schema.MsgRenderAck, limits)
	if err != nil {
		return RenderAck{}, err
	}
	var ack RenderAck
	idField, _ := tlv.GetField(fields, schema.FieldBatchID)
	if ack.BatchID, err = idField.AsU64(); err != nil {
		return RenderAck{}, err
	}
	if errField, ok := tlv.GetField(fields, schema.FieldAckError); ok {
		if ack.Error, err = errField.AsString(); err != nil {
			return RenderAck{}, err
		}
	}
	return ack, nil
}

func encodeFrame(messageID uint64, messageType, flags uint32, fields []tlv.Field, compressAbove int, limits frame.Limits) ([]byte, error) {
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, err
	}
	f := frame.New(messageType, messageID, tlv.EncodeFields(fields))
	f.Header.Flags |= flags
	if compressAbove > 0 && len(f.Payload) > compressAbove {
		var err error
		if f, err = frame.Compress(f); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, f, limits); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFields(f frame.Frame, want uint32, limits frame.Limits) ([]tlv.Field, error) {
	if f.Header.MessageType != want {
		return nil, fmt.Errorf("session: expected %s frame, got %s", schema.MessageName(want), schema.MessageName(f.Header.MessageType))
	}
	body, err := frame.Body(f, limits)
	if err != nil {
		return nil, err
	}
	fields, err := tlv.DecodeFields(body)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(want, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

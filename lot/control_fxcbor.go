package lot

import (
	"github.com/fxamacker/cbor/v2"
)

// FxcborCodec is an alternate ControlCodec, encoding each ControlMessage as
// a genuinely self-describing CBOR map keyed by the short field names of
// spec.md §4.2's table ("m", "i", "s", ...). It exists to demonstrate that
// the control encoding really is a swappable parameter, independent of
// CboringCodec's flat-array wire shape, using a second, independently
// sourced CBOR implementation.
type FxcborCodec struct{}

// Encode implements ControlCodec.
func (FxcborCodec) Encode(m ControlMessage) ([]byte, error) {
	const op = "FxcborCodec.Encode"

	fields := map[string]int64{"m": int64(m.Type())}

	switch msg := m.(type) {
	case *StartMessage:
		fields["i"] = int64(msg.SessionID)
		fields["s"] = int64(msg.ObjectSize)
		fields["b"] = int64(msg.BlockSize)
		fields["w"] = int64(msg.WindowSize)
		fields["t"] = int64(msg.TimeoutMs)
		fields["r"] = int64(msg.MaxRetransmits)
		fields["x"] = int64(msg.ExpiryMs)

	case *AbortMessage:
		fields["i"] = int64(msg.SessionID)
		fields["e"] = int64(msg.ErrorCode)

	case *ResumeMessage:
		fields["i"] = int64(msg.SessionID)
		fields["s"] = int64(msg.ByteOffset)

	case *AckControlMessage:
		fields["i"] = int64(msg.SessionID)
		fields["e"] = int64(msg.ErrorCode)

	default:
		return nil, newErr(op, ErrInvalidControl, errf("unsupported control message type %T", m))
	}

	b, err := cbor.Marshal(fields)
	if err != nil {
		return nil, newErr(op, ErrInternal, err)
	}
	return b, nil
}

// requiredFxcborFields lists the keys, beyond "m" and "i", each message
// type must carry.
var requiredFxcborFields = map[uint64][]string{
	ctrlTypeStart:      {"s", "b", "w", "t", "r", "x"},
	ctrlTypeAbort:      {"e"},
	ctrlTypeResume:     {"s"},
	ctrlTypeAckControl: {"e"},
}

// Decode implements ControlCodec.
func (FxcborCodec) Decode(b []byte) (ControlMessage, error) {
	const op = "FxcborCodec.Decode"

	var fields map[string]int64
	if err := cbor.Unmarshal(b, &fields); err != nil {
		return nil, newErr(op, ErrInvalidControl, err)
	}

	typeCode, ok := fields["m"]
	if !ok {
		return nil, newErr(op, ErrInvalidControl, errf("missing required field \"m\""))
	}
	if _, ok := fields["i"]; !ok {
		return nil, newErr(op, ErrInvalidControl, errf("missing required field \"i\""))
	}

	required, known := requiredFxcborFields[uint64(typeCode)]
	if !known {
		return nil, newErr(op, ErrInvalidControl, errf("unknown control message type code %d", typeCode))
	}
	for _, key := range required {
		if _, ok := fields[key]; !ok {
			return nil, newErr(op, ErrInvalidControl, errf("missing required field %q", key))
		}
	}

	switch uint64(typeCode) {
	case ctrlTypeStart:
		return &StartMessage{
			SessionID:      uint16(fields["i"]),
			ObjectSize:     uint64(fields["s"]),
			BlockSize:      uint16(fields["b"]),
			WindowSize:     uint16(fields["w"]),
			TimeoutMs:      uint32(fields["t"]),
			MaxRetransmits: uint16(fields["r"]),
			ExpiryMs:       uint32(fields["x"]),
		}, nil

	case ctrlTypeAbort:
		return &AbortMessage{SessionID: uint16(fields["i"]), ErrorCode: uint8(fields["e"])}, nil

	case ctrlTypeResume:
		return &ResumeMessage{SessionID: uint16(fields["i"]), ByteOffset: uint64(fields["s"])}, nil

	case ctrlTypeAckControl:
		return &AckControlMessage{SessionID: uint16(fields["i"]), ErrorCode: uint8(fields["e"])}, nil

	default:
		return nil, newErr(op, ErrInvalidControl, errf("unknown control message type code %d", typeCode))
	}
}

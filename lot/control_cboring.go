package lot

import (
	"bytes"

	"github.com/dtn7/cboring"
)

// CboringCodec is the default ControlCodec, encoding each ControlMessage
// as a flat CBOR array of [type_code, field..., ] in a fixed field order
// per message type. It mirrors a familiar envelope pattern: a type code
// identifying which concrete fields follow.
type CboringCodec struct{}

// Encode implements ControlCodec.
func (CboringCodec) Encode(m ControlMessage) ([]byte, error) {
	const op = "CboringCodec.Encode"

	var buf bytes.Buffer

	switch msg := m.(type) {
	case *StartMessage:
		if err := cboring.WriteArrayLength(8, &buf); err != nil {
			return nil, newErr(op, ErrInternal, err)
		}
		fields := []uint64{
			ctrlTypeStart,
			uint64(msg.SessionID),
			msg.ObjectSize,
			uint64(msg.BlockSize),
			uint64(msg.WindowSize),
			uint64(msg.TimeoutMs),
			uint64(msg.MaxRetransmits),
			uint64(msg.ExpiryMs),
		}
		for _, f := range fields {
			if err := cboring.WriteUInt(f, &buf); err != nil {
				return nil, newErr(op, ErrInternal, err)
			}
		}

	case *AbortMessage:
		if err := writeUintArray(&buf, ctrlTypeAbort, uint64(msg.SessionID), uint64(msg.ErrorCode)); err != nil {
			return nil, newErr(op, ErrInternal, err)
		}

	case *ResumeMessage:
		if err := writeUintArray(&buf, ctrlTypeResume, uint64(msg.SessionID), msg.ByteOffset); err != nil {
			return nil, newErr(op, ErrInternal, err)
		}

	case *AckControlMessage:
		if err := writeUintArray(&buf, ctrlTypeAckControl, uint64(msg.SessionID), uint64(msg.ErrorCode)); err != nil {
			return nil, newErr(op, ErrInternal, err)
		}

	default:
		return nil, newErr(op, ErrInvalidControl, errf("unsupported control message type %T", m))
	}

	return buf.Bytes(), nil
}

// writeUintArray writes a CBOR array of the given uint64 values.
func writeUintArray(w *bytes.Buffer, values ...uint64) error {
	if err := cboring.WriteArrayLength(uint64(len(values)), w); err != nil {
		return err
	}
	for _, v := range values {
		if err := cboring.WriteUInt(v, w); err != nil {
			return err
		}
	}
	return nil
}

// Decode implements ControlCodec.
func (CboringCodec) Decode(b []byte) (ControlMessage, error) {
	const op = "CboringCodec.Decode"

	r := bytes.NewReader(b)

	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return nil, newErr(op, ErrInvalidControl, err)
	}

	readUints := func(count uint64) ([]uint64, error) {
		vals := make([]uint64, count)
		for i := range vals {
			v, err := cboring.ReadUInt(r)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return vals, nil
	}

	if n == 0 {
		return nil, newErr(op, ErrInvalidControl, errf("empty control message array"))
	}

	rest, err := readUints(n)
	if err != nil {
		return nil, newErr(op, ErrInvalidControl, err)
	}

	typeCode := rest[0]
	fields := rest[1:]

	switch typeCode {
	case ctrlTypeStart:
		if len(fields) != 7 {
			return nil, newErr(op, ErrInvalidControl, errf("START expects 7 fields, got %d", len(fields)))
		}
		return &StartMessage{
			SessionID:      uint16(fields[0]),
			ObjectSize:     fields[1],
			BlockSize:      uint16(fields[2]),
			WindowSize:     uint16(fields[3]),
			TimeoutMs:      uint32(fields[4]),
			MaxRetransmits: uint16(fields[5]),
			ExpiryMs:       uint32(fields[6]),
		}, nil

	case ctrlTypeAbort:
		if len(fields) != 2 {
			return nil, newErr(op, ErrInvalidControl, errf("ABORT expects 2 fields, got %d", len(fields)))
		}
		return &AbortMessage{SessionID: uint16(fields[0]), ErrorCode: uint8(fields[1])}, nil

	case ctrlTypeResume:
		if len(fields) != 2 {
			return nil, newErr(op, ErrInvalidControl, errf("RESUME expects 2 fields, got %d", len(fields)))
		}
		return &ResumeMessage{SessionID: uint16(fields[0]), ByteOffset: fields[1]}, nil

	case ctrlTypeAckControl:
		if len(fields) != 2 {
			return nil, newErr(op, ErrInvalidControl, errf("ACK-control expects 2 fields, got %d", len(fields)))
		}
		return &AckControlMessage{SessionID: uint16(fields[0]), ErrorCode: uint8(fields[1])}, nil

	default:
		return nil, newErr(op, ErrInvalidControl, errf("unknown control message type code %d", typeCode))
	}
}

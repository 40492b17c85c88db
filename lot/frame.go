package lot

import "encoding/binary"

// dataFrameHeaderLen is the fixed 5-byte header of a data frame:
// session_id(2) + block_number(2) + flags(1).
const dataFrameHeaderLen = 5

// ackFrameHeaderLen is the fixed 3-byte header of an ACK frame:
// session_id(2) + error_code(1).
const ackFrameHeaderLen = 3

// flagsReservedMask covers bits 7..5, which must always read as
// flagsReservedPattern on the wire.
const (
	flagsReservedMask    byte = 0b1110_0000
	flagsReservedPattern byte = 0b0000_0000
	flagResume           byte = 0b0000_0010
	flagLast             byte = 0b0000_0001
)

// dataFrame is the on-wire "data block" frame of spec.md §4.1.
type dataFrame struct {
	SessionID   uint16
	BlockNumber uint16
	Resume      bool
	Last        bool
	Payload     []byte
}

// Encode serializes f into a freshly allocated byte slice.
func (f *dataFrame) Encode() []byte {
	buf := make([]byte, dataFrameHeaderLen+len(f.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], f.SessionID)
	binary.LittleEndian.PutUint16(buf[2:4], f.BlockNumber)

	flags := flagsReservedPattern
	if f.Resume {
		flags |= flagResume
	}
	if f.Last {
		flags |= flagLast
	}
	buf[4] = flags

	copy(buf[dataFrameHeaderLen:], f.Payload)
	return buf
}

// decodeDataFrame parses b into a dataFrame, validating the reserved flag
// bits. maxBlockSize bounds the payload length against the session's
// negotiated block_size; pass -1 to skip that check (e.g. before a
// session's parameters are known).
func decodeDataFrame(b []byte, maxBlockSize int) (*dataFrame, error) {
	const op = "decodeDataFrame"

	if len(b) < dataFrameHeaderLen {
		return nil, newErr(op, ErrInvalidFrame, errf("frame too short: %d bytes", len(b)))
	}

	flags := b[4]
	if flags&flagsReservedMask != flagsReservedPattern {
		return nil, newErr(op, ErrInvalidFrame, errf("reserved flag bits set: %08b", flags))
	}

	payload := b[dataFrameHeaderLen:]
	if maxBlockSize >= 0 && len(payload) > maxBlockSize {
		return nil, newErr(op, ErrInvalidFrame, errf("payload %d exceeds block_size %d", len(payload), maxBlockSize))
	}

	return &dataFrame{
		SessionID:   binary.LittleEndian.Uint16(b[0:2]),
		BlockNumber: binary.LittleEndian.Uint16(b[2:4]),
		Resume:      flags&flagResume != 0,
		Last:        flags&flagLast != 0,
		Payload:     payload,
	}, nil
}

// ackFrame is the on-wire ACK frame of spec.md §4.1. An empty Bitmap
// signals a full-window ACK; a non-empty one carries missing-block bits.
type ackFrame struct {
	SessionID uint16
	ErrorCode uint8
	Bitmap    []byte
}

// Encode serializes f into a freshly allocated byte slice.
func (f *ackFrame) Encode() []byte {
	buf := make([]byte, ackFrameHeaderLen+len(f.Bitmap))
	binary.LittleEndian.PutUint16(buf[0:2], f.SessionID)
	buf[2] = f.ErrorCode
	copy(buf[ackFrameHeaderLen:], f.Bitmap)
	return buf
}

// decodeAckFrame parses b into an ackFrame. bitmapLen must equal either 0
// (full-window ACK) or the session's negotiated bitmap size; any other
// length is INVALID_FRAME per spec.md §4.1.
func decodeAckFrame(b []byte, bitmapLen int) (*ackFrame, error) {
	const op = "decodeAckFrame"

	if len(b) < ackFrameHeaderLen {
		return nil, newErr(op, ErrInvalidFrame, errf("frame too short: %d bytes", len(b)))
	}

	body := b[ackFrameHeaderLen:]
	if len(body) != 0 && len(body) != bitmapLen {
		return nil, newErr(op, ErrInvalidFrame, errf("ack bitmap length %d contradicts window bitmap size %d", len(body), bitmapLen))
	}

	return &ackFrame{
		SessionID: binary.LittleEndian.Uint16(b[0:2]),
		ErrorCode: b[2],
		Bitmap:    body,
	}, nil
}

// bitmapByteLen returns ceil(2*windowSize / 8), the ACK bitmap size for a
// session with the given window size.
func bitmapByteLen(windowSize int) int {
	return (2*windowSize + 7) / 8
}

package lot

import (
	"bytes"
	"testing"
)

func TestDataFrameRoundTrip(t *testing.T) {
	f := &dataFrame{
		SessionID:   7,
		BlockNumber: 42,
		Resume:      true,
		Last:        false,
		Payload:     []byte("hello"),
	}

	raw := f.Encode()

	got, err := decodeDataFrame(raw, -1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SessionID != f.SessionID || got.BlockNumber != f.BlockNumber {
		t.Fatalf("header mismatch: %+v", got)
	}
	if got.Resume != f.Resume || got.Last != f.Last {
		t.Fatalf("flags mismatch: %+v", got)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("payload mismatch: %q != %q", got.Payload, f.Payload)
	}
}

func TestDataFrameRejectsReservedBits(t *testing.T) {
	f := &dataFrame{SessionID: 1, BlockNumber: 1, Payload: []byte("x")}
	raw := f.Encode()
	raw[4] |= 0b1000_0000

	if _, err := decodeDataFrame(raw, -1); KindOf(err) != ErrInvalidFrame {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestDataFrameRejectsShort(t *testing.T) {
	if _, err := decodeDataFrame([]byte{1, 2, 3}, -1); KindOf(err) != ErrInvalidFrame {
		t.Fatalf("expected ErrInvalidFrame for short frame, got %v", err)
	}
}

func TestDataFrameRejectsOversizePayload(t *testing.T) {
	f := &dataFrame{SessionID: 1, BlockNumber: 1, Payload: []byte("0123456789")}
	raw := f.Encode()

	if _, err := decodeDataFrame(raw, 4); KindOf(err) != ErrInvalidFrame {
		t.Fatal("expected ErrInvalidFrame for oversize payload")
	}
}

func TestAckFrameRoundTripFullWindow(t *testing.T) {
	a := &ackFrame{SessionID: 9, ErrorCode: 0}
	raw := a.Encode()

	got, err := decodeAckFrame(raw, 4)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SessionID != 9 || got.ErrorCode != 0 || len(got.Bitmap) != 0 {
		t.Fatalf("unexpected ack: %+v", got)
	}
}

func TestAckFrameRoundTripSelective(t *testing.T) {
	a := &ackFrame{SessionID: 9, ErrorCode: 0, Bitmap: []byte{0x01, 0x00, 0x00, 0x00}}
	raw := a.Encode()

	got, err := decodeAckFrame(raw, 4)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.Bitmap, a.Bitmap) {
		t.Fatalf("bitmap mismatch: %v != %v", got.Bitmap, a.Bitmap)
	}
}

func TestAckFrameRejectsContradictoryBitmapLength(t *testing.T) {
	a := &ackFrame{SessionID: 9, ErrorCode: 0, Bitmap: []byte{0x01, 0x02}}
	raw := a.Encode()

	if _, err := decodeAckFrame(raw, 4); KindOf(err) != ErrInvalidFrame {
		t.Fatal("expected ErrInvalidFrame for bitmap length mismatch")
	}
}

func TestBitmapByteLen(t *testing.T) {
	cases := []struct {
		windowSize int
		want       int
	}{
		{1, 1},
		{4, 1},
		{5, 2},
		{16, 4},
		{16384, 4096},
	}
	for _, c := range cases {
		if got := bitmapByteLen(c.windowSize); got != c.want {
			t.Errorf("bitmapByteLen(%d) = %d, want %d", c.windowSize, got, c.want)
		}
	}
}

package lot

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// failingLink rejects every SendDatagram call, standing in for a link whose
// underlying transport has dropped, to exercise the "ACK send failed" path.
type failingLink struct{}

func (failingLink) SendDatagram(b []byte) error         { return errors.New("link down") }
func (failingLink) RegisterReceiveCallback(func([]byte)) {}

func newTestReceiveSession(t *testing.T, link Link, windowSize uint16, objectSize int, collected *[]byte) *receiveSession {
	t.Helper()
	table := NewTable(link, CboringCodec{}, 64, 4, 4, nil, nil)

	r := &receiveSession{
		header: header{id: 2, params: Params{MTU: 64}, idx: 0, gen: 1, link: link, codec: CboringCodec{}},
		table:  table,
		onBlock: func(offset int, data []byte, total int) {
			if len(*collected) < total {
				*collected = append(*collected, make([]byte, total-len(*collected))...)
			}
			copy((*collected)[offset:], data)
		},
	}
	table.recvSlots[0] = r
	table.recvByID[2] = 0

	start := &StartMessage{
		SessionID:      2,
		ObjectSize:     uint64(objectSize),
		BlockSize:      59,
		WindowSize:     windowSize,
		TimeoutMs:      uint32(time.Hour.Milliseconds()),
		MaxRetransmits: 3,
		ExpiryMs:       uint32(time.Hour.Milliseconds()),
	}
	if err := r.admit(start); err != nil {
		t.Fatalf("admit: %v", err)
	}
	return r
}

func TestReceiveSessionDuplicateBlockIgnored(t *testing.T) {
	link := &recordingLink{}
	var out []byte
	r := newTestReceiveSession(t, link, 4, 400, &out)

	f := &dataFrame{SessionID: 2, BlockNumber: 0, Payload: bytes.Repeat([]byte{1}, 59)}
	r.onDataFrame(f)
	if !r.received.test(0) {
		t.Fatal("expected bit 0 set after first delivery")
	}

	// A different payload arriving for the same, already-received block
	// number must be discarded, not overwrite the buffer.
	dup := &dataFrame{SessionID: 2, BlockNumber: 0, Payload: bytes.Repeat([]byte{2}, 59)}
	r.onDataFrame(dup)

	if r.object[0] != 1 {
		t.Fatalf("duplicate block overwrote data: got %d, want 1", r.object[0])
	}
}

func TestReceiveSessionFutureWindowBlockDropped(t *testing.T) {
	link := &recordingLink{}
	var out []byte
	r := newTestReceiveSession(t, link, 4, 400, &out)

	// window_size=4: block numbers 4..7 are the next window, out of range
	// for the current one.
	f := &dataFrame{SessionID: 2, BlockNumber: 5, Payload: bytes.Repeat([]byte{9}, 59)}
	r.onDataFrame(f)

	if r.received.countSet() != 0 {
		t.Fatal("future-window block should not have been recorded")
	}
}

func TestReceiveSessionWindowCompletionDeliversAndAdvances(t *testing.T) {
	link := &recordingLink{}
	var out []byte
	r := newTestReceiveSession(t, link, 4, 236, &out) // exactly one window (4*59)

	for i := uint16(0); i < 4; i++ {
		payload := bytes.Repeat([]byte{byte(i + 1)}, 59)
		last := i == 3
		r.onDataFrame(&dataFrame{SessionID: 2, BlockNumber: i, Payload: payload, Last: last})
	}

	if r.phase != receiveComplete {
		t.Fatalf("expected receiveComplete after final block, got %v", r.phase)
	}
	if len(out) != 236 {
		t.Fatalf("expected 236 delivered bytes, got %d", len(out))
	}
	for i := 0; i < 4; i++ {
		want := byte(i + 1)
		if out[i*59] != want {
			t.Fatalf("block %d delivered wrong content: got %d want %d", i, out[i*59], want)
		}
	}

	// Exactly one ACK datagram (zero-bitmap) should have been sent.
	if len(link.sent) != 1 {
		t.Fatalf("expected exactly 1 ACK sent, got %d", len(link.sent))
	}
	ack, err := decodeAckFrame(link.sent[0], r.params.bitmapLen())
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if len(ack.Bitmap) != 0 {
		t.Fatal("expected a zero-bitmap (full-window) ACK")
	}
}

func TestReceiveSessionAckTimerEmitsSelectiveAck(t *testing.T) {
	link := &recordingLink{}
	var out []byte
	r := newTestReceiveSession(t, link, 4, 400, &out)

	// Only deliver block 0 and 2, leaving 1 and 3 missing.
	r.onDataFrame(&dataFrame{SessionID: 2, BlockNumber: 0, Payload: bytes.Repeat([]byte{1}, 59)})
	r.onDataFrame(&dataFrame{SessionID: 2, BlockNumber: 2, Payload: bytes.Repeat([]byte{1}, 59)})

	r.onAckTimerFired()

	if len(link.sent) != 1 {
		t.Fatalf("expected exactly 1 ACK from timer fire, got %d", len(link.sent))
	}
	ack, err := decodeAckFrame(link.sent[0], r.params.bitmapLen())
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if len(ack.Bitmap) == 0 {
		t.Fatal("expected a selective-retransmit ACK, got a full-window one")
	}

	bm := &bitmap{bits: ack.Bitmap, n: 2 * int(r.params.WindowSize)}
	if !bm.test(1) || !bm.test(3) {
		t.Fatal("expected bits 1 and 3 marked missing")
	}
	if bm.test(0) || bm.test(2) {
		t.Fatal("received blocks must not be marked missing")
	}
}

func TestReceiveSessionCompleteWindowAckSendFailureFailsSession(t *testing.T) {
	link := failingLink{}
	var out []byte
	r := newTestReceiveSession(t, link, 4, 236, &out) // exactly one window (4*59)

	var gotEvent EventKind
	r.onEvent = func(e Event) { gotEvent = e.Kind }

	for i := uint16(0); i < 4; i++ {
		payload := bytes.Repeat([]byte{byte(i + 1)}, 59)
		last := i == 3
		r.onDataFrame(&dataFrame{SessionID: 2, BlockNumber: i, Payload: payload, Last: last})
	}

	if r.phase != receiveFailed {
		t.Fatalf("expected receiveFailed after ACK send failure, got %v", r.phase)
	}
	if gotEvent != ReceiveFailed {
		t.Fatalf("expected ReceiveFailed event, got %v", gotEvent)
	}
}

func TestReceiveSessionAckTimerAckSendFailureFailsSession(t *testing.T) {
	link := failingLink{}
	var out []byte
	r := newTestReceiveSession(t, link, 4, 400, &out)

	var gotEvent EventKind
	r.onEvent = func(e Event) { gotEvent = e.Kind }

	r.onDataFrame(&dataFrame{SessionID: 2, BlockNumber: 0, Payload: bytes.Repeat([]byte{1}, 59)})
	r.onAckTimerFired()

	if r.phase != receiveFailed {
		t.Fatalf("expected receiveFailed after ACK send failure, got %v", r.phase)
	}
	if gotEvent != ReceiveFailed {
		t.Fatalf("expected ReceiveFailed event, got %v", gotEvent)
	}
}

func TestReceiveSessionResumeOffsetMismatchAborts(t *testing.T) {
	link := &recordingLink{}
	var out []byte
	r := newTestReceiveSession(t, link, 4, 400, &out)

	r.onResume(&ResumeMessage{SessionID: 2, ByteOffset: 118}) // not a window boundary the receiver is at

	if r.phase != receiveAborted {
		t.Fatalf("expected receiveAborted on offset mismatch, got %v", r.phase)
	}
}

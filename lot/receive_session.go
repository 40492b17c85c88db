package lot

import "time"

// receivePhase is the receive session's position in the Init → Receiving →
// Delivering → {Complete | Failed | Aborted} state machine of spec.md §4.5.
type receivePhase uint8

const (
	receiveInit receivePhase = iota
	receiveReceiving
	receiveDelivering
	receiveComplete
	receiveFailed
	receiveAborted
)

func (p receivePhase) terminal() bool {
	return p == receiveComplete || p == receiveFailed || p == receiveAborted
}

func (p receivePhase) String() string {
	switch p {
	case receiveInit:
		return "init"
	case receiveReceiving:
		return "receiving"
	case receiveDelivering:
		return "delivering"
	case receiveComplete:
		return "complete"
	case receiveFailed:
		return "failed"
	case receiveAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// receiveSession is the windowed receiver state machine of spec.md §4.5.
type receiveSession struct {
	header

	object   []byte
	totalLen int

	phase            receivePhase
	windowBaseOffset int
	firstBlockNumber int

	received *bitmap // set bit i means block i of the current window has arrived
	seenLast bool    // the LAST-flagged block has been observed

	onBlock BlockCallback

	table *Table

	ackTimer    *time.Timer
	expiryTimer *time.Timer
}

func (s *receiveSession) blockSpace() int {
	return s.params.blockSpace()
}

// admit begins a receive session in response to an inbound START message,
// per spec.md §4.5.
func (s *receiveSession) admit(start *StartMessage) error {
	s.params = Params{
		MTU:            start.BlockSize + dataFrameHeaderLen,
		WindowSize:     start.WindowSize,
		Timeout:        time.Duration(start.TimeoutMs) * time.Millisecond,
		MaxRetransmits: start.MaxRetransmits,
		SessionExpiry:  time.Duration(start.ExpiryMs) * time.Millisecond,
	}
	if err := s.params.Validate(); err != nil {
		return err
	}

	s.totalLen = int(start.ObjectSize)
	s.object = make([]byte, s.totalLen)
	s.windowBaseOffset = 0
	s.firstBlockNumber = 0
	s.received = newBitmap(2 * int(s.params.WindowSize))
	s.seenLast = false
	s.phase = receiveReceiving

	s.table.armRecvAckTimer(s, s.params.Timeout)
	s.table.armRecvExpiryTimer(s)
	s.emit(ReceiveStarted, nil)

	return nil
}

// blockLen returns the payload length of window-relative block i, which is
// block_size except possibly for the terminal, partial block.
func (s *receiveSession) blockLen(i int) int {
	bs := s.params.BlockSize()
	offset := s.windowBaseOffset + i*bs
	if offset+bs > s.totalLen {
		return s.totalLen - offset
	}
	return bs
}

// onDataFrame implements the data-block handling algorithm of spec.md §4.5.
func (s *receiveSession) onDataFrame(f *dataFrame) {
	if s.phase != receiveReceiving {
		return
	}

	space := s.blockSpace()
	windowSize := int(s.params.WindowSize)
	blockNum := int(f.BlockNumber)

	i := modSub(blockNum, s.firstBlockNumber, space)
	if i >= windowSize {
		// Belongs to a future window: drop silently, the sender will
		// retransmit once it learns our progress.
		return
	}

	if s.received.test(i) {
		// Duplicate retransmit; discard.
		return
	}

	bs := s.params.BlockSize()
	offset := s.windowBaseOffset + i*bs
	end := offset + len(f.Payload)
	if end > s.totalLen {
		end = s.totalLen
	}
	copy(s.object[offset:end], f.Payload)
	s.received.set(i)

	if f.Last {
		s.seenLast = true
	}

	count := s.params.windowBlockCount(s.windowBaseOffset, s.totalLen)
	if s.received.allSetInRange(0, count) {
		s.table.cancelTimer(s.ackTimer)
		s.completeWindow(count)
	}
}

// completeWindow implements the "window fully received" branch of the ACK
// emission algorithm of spec.md §4.5: emit a zero-bitmap ACK, deliver the
// window's blocks to the application in ascending offset order, then
// advance or finish.
func (s *receiveSession) completeWindow(count int) {
	ack := &ackFrame{SessionID: s.id, ErrorCode: wireOK}
	if err := s.link.SendDatagram(ack.Encode()); err != nil {
		s.finish(receiveFailed, ReceiveFailed, newErr("receiveSession.completeWindow", ErrNetwork, err))
		return
	}

	for i := 0; i < count; i++ {
		offset := s.windowBaseOffset + i*s.params.BlockSize()
		length := s.blockLen(i)
		if s.onBlock != nil {
			s.onBlock(offset, s.object[offset:offset+length], s.totalLen)
		}
	}

	windowBytes := 0
	if count > 0 {
		windowBytes = (count-1)*s.params.BlockSize() + s.blockLen(count-1)
	}

	if s.seenLast || s.windowBaseOffset+windowBytes >= s.totalLen {
		s.finish(receiveComplete, ReceiveComplete, nil)
		return
	}

	windowSize := int(s.params.WindowSize)
	s.windowBaseOffset += windowSize * s.params.BlockSize()
	s.firstBlockNumber = (s.firstBlockNumber + windowSize) % s.blockSpace()
	s.received.clearAll()

	s.table.armRecvAckTimer(s, s.params.Timeout)
}

// onAckTimerFired implements the coalescing-timer branch of spec.md §4.5's
// ACK emission algorithm: the window has not filled since the last ACK, so
// emit whatever progress has been made as a selective-retransmit ACK.
func (s *receiveSession) onAckTimerFired() {
	if s.phase.terminal() {
		return
	}

	count := s.params.windowBlockCount(s.windowBaseOffset, s.totalLen)
	if s.received.allSetInRange(0, count) {
		s.completeWindow(count)
		return
	}

	space := s.blockSpace()
	missing := newBitmap(2 * int(s.params.WindowSize))
	for i := 0; i < count; i++ {
		if !s.received.test(i) {
			missing.set((s.firstBlockNumber + i) % space)
		}
	}

	ack := &ackFrame{SessionID: s.id, ErrorCode: wireOK, Bitmap: missing.bytes()}
	if err := s.link.SendDatagram(ack.Encode()); err != nil {
		s.finish(receiveFailed, ReceiveFailed, newErr("receiveSession.onAckTimerFired", ErrNetwork, err))
		return
	}

	s.table.armRecvAckTimer(s, s.params.Timeout)
}

// onResume implements the receiver side of spec.md §4.7: validate that the
// sender's resume offset matches our own window base, or abort on mismatch.
func (s *receiveSession) onResume(msg *ResumeMessage) {
	if s.phase.terminal() {
		return
	}
	if int(msg.ByteOffset) != s.windowBaseOffset {
		s.abort(ErrInvalidParams)
		return
	}
	s.phase = receiveReceiving
}

// onExpiry implements the session_expiry_ms wall-clock budget.
func (s *receiveSession) onExpiry() {
	if s.phase.terminal() {
		return
	}
	s.finish(receiveFailed, ReceiveFailed, newErr("receiveSession.onExpiry", ErrExpired, errf("session expired")))
}

// abort implements the public abort() operation.
func (s *receiveSession) abort(code ErrorKind) {
	if s.phase.terminal() {
		return
	}

	abortMsg := &AbortMessage{SessionID: s.id, ErrorCode: kindToWireCode(code)}
	if raw, err := s.codec.Encode(abortMsg); err == nil {
		if sendErr := s.link.SendDatagram(raw); sendErr != nil {
			s.logger().WithError(sendErr).Warn("Best-effort ABORT send failed")
		}
	} else {
		s.logger().WithError(err).Warn("Failed to encode ABORT")
	}

	s.finish(receiveAborted, ReceiveFailed, nil)
}

// onPeerAbort handles an inbound ABORT for this session.
func (s *receiveSession) onPeerAbort(msg *AbortMessage) {
	if s.phase.terminal() {
		return
	}
	kind := wireCodeToKind(msg.ErrorCode)
	s.finish(receiveFailed, ReceiveFailed, newErr("receiveSession.onPeerAbort", kind, errf("peer aborted session")))
}

func (s *receiveSession) finish(phase receivePhase, event EventKind, err error) {
	s.table.cancelTimer(s.ackTimer)
	s.table.cancelTimer(s.expiryTimer)
	s.phase = phase
	s.emit(event, err)
	s.table.releaseReceive(s)
}

package lot

import "time"

// sendPhase is the send session's position in the Init → Starting →
// Sending → Draining → {Complete | Failed | Aborted} state machine of
// spec.md §4.4.
type sendPhase uint8

const (
	sendInit sendPhase = iota
	sendStarting
	sendSending
	sendDraining
	sendComplete
	sendFailed
	sendAborted
)

func (p sendPhase) terminal() bool {
	return p == sendComplete || p == sendFailed || p == sendAborted
}

func (p sendPhase) String() string {
	switch p {
	case sendInit:
		return "init"
	case sendStarting:
		return "starting"
	case sendSending:
		return "sending"
	case sendDraining:
		return "draining"
	case sendComplete:
		return "complete"
	case sendFailed:
		return "failed"
	case sendAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// sendSession is the windowed sender state machine of spec.md §4.4.
type sendSession struct {
	header

	object   []byte
	totalLen int

	phase            sendPhase
	windowBaseOffset int
	firstBlockNumber int
	retriesLeft      int

	// awaitingAck is true iff the sender currently has blocks in flight for
	// windowBaseOffset/firstBlockNumber and has not yet processed an ACK
	// for them. It is spec.md §4.4's implicit stand-in for the wire format
	// carrying no per-ACK window identifier: any ACK observed while this is
	// false is necessarily stale (a duplicate for an already-superseded
	// window) and is dropped per the tie-break rule.
	awaitingAck bool

	// resumePending marks that the next block 0 emitted must carry the
	// RESUME flag, per spec.md §4.7.
	resumePending bool

	// failReason records which EventKind finish() was called with the one
	// time this session became sendFailed, distinguishing a timed-out
	// session (resumable) from one that expired or was aborted by the
	// peer (not resumable) even though both land in the same phase.
	failReason EventKind

	table *Table

	timer       *time.Timer
	expiryTimer *time.Timer
}

// blockSpace is 2*window_size, this session's modular block-number range.
func (s *sendSession) blockSpace() int {
	return s.params.blockSpace()
}

// start implements the public send() operation: arm the retransmit timer,
// emit START, emit the first window, per spec.md §4.4.
func (s *sendSession) start() error {
	const op = "sendSession.start"

	if err := s.params.Validate(); err != nil {
		return err
	}

	s.phase = sendStarting
	s.windowBaseOffset = 0
	s.firstBlockNumber = 0
	s.retriesLeft = int(s.params.MaxRetransmits)
	s.totalLen = len(s.object)

	start := &StartMessage{
		SessionID:      s.id,
		ObjectSize:     uint64(s.totalLen),
		BlockSize:      uint16(s.params.BlockSize()),
		WindowSize:     s.params.WindowSize,
		TimeoutMs:      uint32(s.params.Timeout.Milliseconds()),
		MaxRetransmits: s.params.MaxRetransmits,
		ExpiryMs:       uint32(s.params.SessionExpiry.Milliseconds()),
	}
	raw, err := s.codec.Encode(start)
	if err != nil {
		return newErr(op, ErrInvalidControl, err)
	}
	if err := s.link.SendDatagram(raw); err != nil {
		return newErr(op, ErrNetwork, err)
	}

	s.phase = sendSending
	s.logger().Debug("Session started, emitting first window")

	s.emitWindow()
	s.table.armSendTimer(s, 2*s.params.Timeout)
	s.table.armSendExpiryTimer(s)

	return nil
}

// emitWindow transmits every block of the current window in ascending
// block-number order, per spec.md §5's ordering guarantee.
func (s *sendSession) emitWindow() {
	bs := s.params.BlockSize()
	count := s.params.windowBlockCount(s.windowBaseOffset, s.totalLen)

	for i := 0; i < count; i++ {
		offset := s.windowBaseOffset + i*bs
		end := offset + bs
		if end > s.totalLen {
			end = s.totalLen
		}
		payload := s.object[offset:end]
		last := end == s.totalLen

		frame := &dataFrame{
			SessionID:   s.id,
			BlockNumber: uint16((s.firstBlockNumber + i) % s.blockSpace()),
			Resume:      s.resumePending && i == 0,
			Last:        last,
			Payload:     payload,
		}

		if err := s.link.SendDatagram(frame.Encode()); err != nil {
			// Transient per spec.md §7: keep emitting the rest of the
			// window and let the retransmit timer recover any losses.
			s.logger().WithError(err).WithField("block", frame.BlockNumber).Warn("Send failed, continuing window")
		}
	}

	s.resumePending = false
	s.awaitingAck = true
}

// retransmitBlocks re-emits exactly the given window-relative block
// indices, in ascending order, with correct LAST flags.
func (s *sendSession) retransmitBlocks(indices []int) {
	bs := s.params.BlockSize()

	for _, i := range indices {
		offset := s.windowBaseOffset + i*bs
		end := offset + bs
		if end > s.totalLen {
			end = s.totalLen
		}
		payload := s.object[offset:end]
		last := end == s.totalLen

		frame := &dataFrame{
			SessionID:   s.id,
			BlockNumber: uint16((s.firstBlockNumber + i) % s.blockSpace()),
			Last:        last,
			Payload:     payload,
		}

		if err := s.link.SendDatagram(frame.Encode()); err != nil {
			s.logger().WithError(err).WithField("block", frame.BlockNumber).Warn("Retransmit send failed")
		}
	}
}

// onAckFrame implements the ACK handling algorithm of spec.md §4.4.
func (s *sendSession) onAckFrame(ack *ackFrame) {
	if s.phase != sendSending && s.phase != sendDraining {
		return
	}
	if !s.awaitingAck {
		// Stale ACK from an already-superseded window; drop silently,
		// timer untouched.
		return
	}

	if ack.ErrorCode != wireOK {
		kind := wireCodeToKind(ack.ErrorCode)
		s.finish(sendFailed, SendFailed, newErr("sendSession.onAckFrame", kind, errf("peer reported error in ACK")))
		return
	}

	if len(ack.Bitmap) != 0 {
		space := s.blockSpace()
		count := s.params.windowBlockCount(s.windowBaseOffset, s.totalLen)
		bm := &bitmap{bits: ack.Bitmap, n: 2 * int(s.params.WindowSize)}

		// Every index here is window-relative (i < count <= windowSize), so
		// blockNum is always within the current window by construction;
		// bits set outside it cannot appear in this loop at all.
		var missing []int
		for i := 0; i < count; i++ {
			blockNum := (s.firstBlockNumber + i) % space
			if bm.test(blockNum) {
				missing = append(missing, i)
			}
		}

		s.table.cancelTimer(s.timer)
		s.retransmitBlocks(missing)
		s.table.armSendTimer(s, 2*s.params.Timeout)
		return
	}

	// Full-window ACK: advance.
	s.table.cancelTimer(s.timer)
	s.awaitingAck = false

	windowSize := int(s.params.WindowSize)
	s.windowBaseOffset += windowSize * s.params.BlockSize()
	s.firstBlockNumber = (s.firstBlockNumber + windowSize) % s.blockSpace()

	if s.windowBaseOffset >= s.totalLen {
		s.finish(sendComplete, SendComplete, nil)
		return
	}

	s.retriesLeft = int(s.params.MaxRetransmits)
	s.emitWindow()
	s.table.armSendTimer(s, 2*s.params.Timeout)
}

// onSetupAck handles an inbound AckControlMessage referring to this
// session's START.
func (s *sendSession) onSetupAck(errorCode uint8) {
	if s.phase.terminal() {
		return
	}
	if errorCode == wireOK {
		return
	}
	kind := wireCodeToKind(errorCode)
	s.finish(sendFailed, SendFailed, newErr("sendSession.onSetupAck", kind, errf("peer reported setup error")))
}

// onPeerAbort handles an inbound ABORT for this session.
func (s *sendSession) onPeerAbort(msg *AbortMessage) {
	if s.phase.terminal() {
		return
	}
	kind := wireCodeToKind(msg.ErrorCode)
	s.finish(sendFailed, SendFailed, newErr("sendSession.onPeerAbort", kind, errf("peer aborted session")))
}

// onTimerFired implements the retransmit-timeout branch of spec.md §4.4.
func (s *sendSession) onTimerFired() {
	if s.phase.terminal() {
		return
	}

	if s.retriesLeft == 0 {
		s.finish(sendFailed, SendTimedOut, newErr("sendSession.onTimerFired", ErrTimedOut, errf("exhausted retransmit budget")))
		return
	}

	s.retriesLeft--
	s.logger().WithField("retries_left", s.retriesLeft).Debug("Retransmit timer fired, re-emitting window")
	s.emitWindow()
	s.table.armSendTimer(s, 2*s.params.Timeout)
}

// onExpiry implements the session_expiry_ms wall-clock budget.
func (s *sendSession) onExpiry() {
	if s.phase.terminal() {
		return
	}
	s.finish(sendFailed, SendFailed, newErr("sendSession.onExpiry", ErrExpired, errf("session expired")))
}

// abort implements the public abort() operation.
func (s *sendSession) abort(code ErrorKind) {
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

	s.finish(sendAborted, SendFailed, nil)
}

// resume implements the public resume() operation for a session that
// previously failed with TIMED_OUT, per spec.md §4.7.
func (s *sendSession) resume() error {
	const op = "sendSession.resume"

	if s.phase != sendFailed || s.failReason != SendTimedOut {
		return newErr(op, ErrInvalidParams, errf("only a TIMED_OUT session may be resumed"))
	}

	resumeMsg := &ResumeMessage{SessionID: s.id, ByteOffset: uint64(s.windowBaseOffset)}
	raw, err := s.codec.Encode(resumeMsg)
	if err != nil {
		return newErr(op, ErrInvalidControl, err)
	}
	if err := s.link.SendDatagram(raw); err != nil {
		return newErr(op, ErrNetwork, err)
	}

	s.phase = sendSending
	s.resumePending = true
	s.retriesLeft = int(s.params.MaxRetransmits)
	s.emitWindow()
	s.table.armSendTimer(s, 2*s.params.Timeout)
	s.table.armSendExpiryTimer(s)

	return nil
}

// finish transitions to a terminal phase, cancels timers, and notifies the
// application.
func (s *sendSession) finish(phase sendPhase, event EventKind, err error) {
	s.table.cancelTimer(s.timer)
	s.table.cancelTimer(s.expiryTimer)
	s.phase = phase
	if phase == sendFailed {
		s.failReason = event
	}
	s.emit(event, err)
	s.table.releaseSend(s)
}

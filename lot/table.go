package lot

import (
	"encoding/binary"
	"sync"
	"time"
)

// Table owns two fixed-size arrays of sessions, one per direction, and is
// the session-table/demux of spec.md §4.6. All session mutation, whether
// triggered by an inbound datagram, a timer, or a public-API call, happens
// while Table's mutex is held — the single-execution-context model of
// spec.md §5, implemented as a per-context mutex per its multi-threaded
// runtime note.
type Table struct {
	mu sync.Mutex

	link  Link
	codec ControlCodec
	mtu   uint16

	onEvent EventCallback
	onBlock BlockCallback

	sendSlots []*sendSession
	recvSlots []*receiveSession

	sendByID map[uint16]int
	recvByID map[uint16]int

	nextGen    uint32
	nextSendID uint16
}

// NewTable constructs a session table bound to link, encoding control
// messages with codec, and able to hold up to maxSend concurrent send
// sessions and maxRecv concurrent receive sessions.
func NewTable(link Link, codec ControlCodec, mtu uint16, maxSend, maxRecv int, onEvent EventCallback, onBlock BlockCallback) *Table {
	t := &Table{
		link:       link,
		codec:      codec,
		mtu:        mtu,
		onEvent:    onEvent,
		onBlock:    onBlock,
		sendSlots:  make([]*sendSession, maxSend),
		recvSlots:  make([]*receiveSession, maxRecv),
		sendByID:   make(map[uint16]int, maxSend),
		recvByID:   make(map[uint16]int, maxRecv),
		nextSendID: 1,
	}
	link.RegisterReceiveCallback(t.onDatagram)
	return t
}

// allocSendID returns an unused odd session id, per spec.md §3's
// send-initiated-uses-odd-identifiers convention, or an error if the
// entire odd id space is already in use (which given a bounded slot count
// can only happen if maxSend exceeds 32768 and every slot is occupied).
func (t *Table) allocSendID() (uint16, error) {
	start := t.nextSendID
	for {
		id := t.nextSendID
		t.nextSendID += 2
		if _, taken := t.sendByID[id]; !taken {
			return id, nil
		}
		if t.nextSendID == start {
			return 0, newErr("Table.allocSendID", ErrMaxSessions, errf("no free send session id"))
		}
	}
}

// newSend allocates a slot and identifier for a new send session and wires
// it into the table. Callers must hold t.mu.
func (t *Table) newSend(params Params, object []byte, onEvent EventCallback) (*sendSession, error) {
	const op = "Table.newSend"

	idx := -1
	for i, s := range t.sendSlots {
		if s == nil {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, newErr(op, ErrMaxSessions, errf("no free send session slot"))
	}

	id, err := t.allocSendID()
	if err != nil {
		return nil, err
	}

	t.nextGen++
	s := &sendSession{
		header: header{
			id:      id,
			params:  params,
			idx:     idx,
			gen:     t.nextGen,
			link:    t.link,
			codec:   t.codec,
			onEvent: onEvent,
		},
		object: object,
		table:  t,
	}
	t.sendSlots[idx] = s
	t.sendByID[id] = idx

	return s, nil
}

// releaseSend removes a send session from the table, freeing its slot and
// identifier for reuse. Callers must hold t.mu.
func (t *Table) releaseSend(s *sendSession) {
	if t.sendSlots[s.idx] != s {
		return
	}
	t.sendSlots[s.idx] = nil
	delete(t.sendByID, s.id)
}

// releaseReceive removes a receive session from the table. Callers must
// hold t.mu.
func (t *Table) releaseReceive(s *receiveSession) {
	if t.recvSlots[s.idx] != s {
		return
	}
	t.recvSlots[s.idx] = nil
	delete(t.recvByID, s.id)
}

func (t *Table) armSendTimer(s *sendSession, d time.Duration) {
	idx, gen := s.idx, s.gen
	s.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		cur := t.sendSlots[idx]
		if cur == nil || cur.gen != gen {
			return
		}
		cur.onTimerFired()
	})
}

func (t *Table) armSendExpiryTimer(s *sendSession) {
	idx, gen := s.idx, s.gen
	s.expiryTimer = time.AfterFunc(s.params.SessionExpiry, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		cur := t.sendSlots[idx]
		if cur == nil || cur.gen != gen {
			return
		}
		cur.onExpiry()
	})
}

func (t *Table) armRecvAckTimer(s *receiveSession, d time.Duration) {
	idx, gen := s.idx, s.gen
	s.ackTimer = time.AfterFunc(d, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		cur := t.recvSlots[idx]
		if cur == nil || cur.gen != gen {
			return
		}
		cur.onAckTimerFired()
	})
}

func (t *Table) armRecvExpiryTimer(s *receiveSession) {
	idx, gen := s.idx, s.gen
	s.expiryTimer = time.AfterFunc(s.params.SessionExpiry, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		cur := t.recvSlots[idx]
		if cur == nil || cur.gen != gen {
			return
		}
		cur.onExpiry()
	})
}

// cancelTimer stops a timer best-effort, tolerating a timer that has
// already fired or is nil, per spec.md §5's "cancellation is best-effort"
// note.
func (t *Table) cancelTimer(timer *time.Timer) {
	if timer != nil {
		timer.Stop()
	}
}

// onDatagram is the demux entry point registered with the link. It
// implements the routing algorithm of spec.md §4.6, adapted for a wire
// where control messages carry their session id inside a self-describing
// payload rather than at the fixed offset frames use: a datagram is tried
// as a control message first (self-describing decode either cleanly
// succeeds or cleanly fails), and only on that failure is it tried as an
// ACK or data frame against a session found by its fixed-offset id. See
// DESIGN.md for why the literal id-first ordering of spec.md §4.6 cannot
// be implemented as written on a single, tagless channel.
func (t *Table) onDatagram(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(b) < 3 {
		return
	}

	if msg, err := t.codec.Decode(b); err == nil {
		t.routeControl(msg)
		return
	}

	id := binary.LittleEndian.Uint16(b[0:2])

	if idx, ok := t.sendByID[id]; ok {
		s := t.sendSlots[idx]
		if ack, err := decodeAckFrame(b, s.params.bitmapLen()); err == nil {
			s.onAckFrame(ack)
		}
		return
	}

	if idx, ok := t.recvByID[id]; ok {
		r := t.recvSlots[idx]
		if f, err := decodeDataFrame(b, r.params.BlockSize()); err == nil {
			r.onDataFrame(f)
		}
		return
	}

	// Unknown id and not a recognizable control message: drop silently.
}

// routeControl dispatches a successfully decoded control message to the
// session table it concerns.
func (t *Table) routeControl(msg ControlMessage) {
	switch m := msg.(type) {
	case *StartMessage:
		if _, known := t.recvByID[m.SessionID]; !known {
			t.admitReceive(m)
		}

	case *AbortMessage:
		if idx, ok := t.sendByID[m.SessionID]; ok {
			t.sendSlots[idx].onPeerAbort(m)
			return
		}
		if idx, ok := t.recvByID[m.SessionID]; ok {
			t.recvSlots[idx].onPeerAbort(m)
		}

	case *ResumeMessage:
		// RESUME is emitted by the sender and observed by the demux
		// running on the receiver's node, so despite spec.md §4.6's
		// phrasing ("RESUME for a known send session"), the local table
		// consulted here is necessarily the receive table — see
		// DESIGN.md.
		if idx, ok := t.recvByID[m.SessionID]; ok {
			t.recvSlots[idx].onResume(m)
		}

	case *AckControlMessage:
		if idx, ok := t.sendByID[m.SessionID]; ok {
			t.sendSlots[idx].onSetupAck(m.ErrorCode)
		}
	}
}

// admitReceive creates a new receive session for an inbound START whose id
// is unknown, if a free slot exists; otherwise the datagram is dropped
// silently per spec.md §4.6.
func (t *Table) admitReceive(start *StartMessage) {
	idx := -1
	for i, s := range t.recvSlots {
		if s == nil {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	t.nextGen++
	r := &receiveSession{
		header: header{
			id:      start.SessionID,
			params:  Params{MTU: t.mtu},
			idx:     idx,
			gen:     t.nextGen,
			link:    t.link,
			codec:   t.codec,
			onEvent: t.onEvent,
		},
		onBlock: t.onBlock,
		table:   t,
	}

	if err := r.admit(start); err != nil {
		return
	}

	t.recvSlots[idx] = r
	t.recvByID[start.SessionID] = idx
}

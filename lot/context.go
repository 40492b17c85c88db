package lot

// Context is the public entry point of spec.md §6: it owns the session
// table bound to one link and one control codec, and exposes the
// application-facing send/receive/abort/resume/destroy operations.
type Context struct {
	table *Table
}

// CreateContext wires a Link and ControlCodec into a fresh session table
// capable of holding up to maxSendSessions concurrent outbound transfers
// and maxRecvSessions concurrent inbound ones. mtu sets the block size
// (mtu - 5) of every send session this context starts; a receive session
// uses the block size carried in the peer's START instead. onEvent and
// onBlock are the context-wide handlers installed by set_receive_handler in
// spec.md §6, used for receive sessions only; a send session reports to the
// callback passed to Send and to nothing else.
func CreateContext(link Link, codec ControlCodec, mtu uint16, maxSendSessions, maxRecvSessions int, onEvent EventCallback, onBlock BlockCallback) (*Context, error) {
	const op = "CreateContext"

	if link == nil {
		return nil, newErr(op, ErrInvalidParams, errf("link must not be nil"))
	}
	if codec == nil {
		return nil, newErr(op, ErrInvalidParams, errf("codec must not be nil"))
	}
	if mtu <= dataFrameHeaderLen {
		return nil, newErr(op, ErrInvalidParams, errf("mtu %d too small for %d-byte frame header", mtu, dataFrameHeaderLen))
	}
	if maxSendSessions <= 0 || maxRecvSessions <= 0 {
		return nil, newErr(op, ErrInvalidParams, errf("max_send_sessions and max_recv_sessions must be positive"))
	}

	table := NewTable(link, codec, mtu, maxSendSessions, maxRecvSessions, onEvent, onBlock)
	return &Context{table: table}, nil
}

// SetReceiveHandler installs (or replaces) the context-wide block and event
// callbacks used for every inbound receive session, per spec.md §6.
func (c *Context) SetReceiveHandler(onBlock BlockCallback, onEvent EventCallback) {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()
	c.table.onBlock = onBlock
	c.table.onEvent = onEvent
}

// Send begins transmitting object as a new send session, per spec.md §6's
// `send(context, object_bytes, object_len, callback)`. params supplies
// window_size, timeout_ms, max_retransmits, and session_expiry_ms; mtu is
// always the context's own, per its role as a link-wide constant.
func (c *Context) Send(object []byte, params Params, onEvent EventCallback) (SessionHandle, error) {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()

	params.MTU = c.table.mtu

	s, err := c.table.newSend(params, object, onEvent)
	if err != nil {
		return SessionHandle{}, err
	}
	if err := s.start(); err != nil {
		c.table.releaseSend(s)
		return SessionHandle{}, err
	}
	return s.handle(), nil
}

// Resume implements spec.md §4.7's resume() operation for a session that
// previously failed with TIMED_OUT.
func (c *Context) Resume(handle SessionHandle) error {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()

	idx, ok := c.table.sendByID[handle.id]
	if !ok {
		return newErr("Context.Resume", ErrSessionNotFound, errf("no such session"))
	}
	s := c.table.sendSlots[idx]
	if s.gen != handle.gen {
		return newErr("Context.Resume", ErrSessionNotFound, errf("session handle is stale"))
	}
	return s.resume()
}

// Abort implements spec.md §6's abort() operation. It is a no-op if the
// handle no longer names a live session.
func (c *Context) Abort(handle SessionHandle) {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()

	if idx, ok := c.table.sendByID[handle.id]; ok {
		if s := c.table.sendSlots[idx]; s.gen == handle.gen {
			s.abort(ErrInternal)
			return
		}
	}
	if idx, ok := c.table.recvByID[handle.id]; ok {
		if r := c.table.recvSlots[idx]; r.gen == handle.gen {
			r.abort(ErrInternal)
		}
	}
}

// SessionInfo is a read-only snapshot of one session's routing and progress
// state, for the admin/introspection surface. It is never used internally
// for control flow.
type SessionInfo struct {
	ID       uint16
	Send     bool // true for a send session, false for a receive session
	Phase    string
	Progress int // window_base_offset
	Total    int // object length in bytes
}

// Sessions returns a snapshot of every live session in the table, for the
// read-only admin/introspection surface.
func (c *Context) Sessions() []SessionInfo {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()

	var infos []SessionInfo
	for _, s := range c.table.sendSlots {
		if s == nil {
			continue
		}
		infos = append(infos, SessionInfo{ID: s.id, Send: true, Phase: s.phase.String(), Progress: s.windowBaseOffset, Total: s.totalLen})
	}
	for _, r := range c.table.recvSlots {
		if r == nil {
			continue
		}
		infos = append(infos, SessionInfo{ID: r.id, Send: false, Phase: r.phase.String(), Progress: r.windowBaseOffset, Total: r.totalLen})
	}
	return infos
}

// SessionByID returns the snapshot for a single session id, or ok=false if
// no send or receive session with that id is currently live.
func (c *Context) SessionByID(id uint16) (info SessionInfo, ok bool) {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()

	if idx, found := c.table.sendByID[id]; found {
		s := c.table.sendSlots[idx]
		return SessionInfo{ID: s.id, Send: true, Phase: s.phase.String(), Progress: s.windowBaseOffset, Total: s.totalLen}, true
	}
	if idx, found := c.table.recvByID[id]; found {
		r := c.table.recvSlots[idx]
		return SessionInfo{ID: r.id, Send: false, Phase: r.phase.String(), Progress: r.windowBaseOffset, Total: r.totalLen}, true
	}
	return SessionInfo{}, false
}

// Destroy releases the context. Per spec.md §6, every session must already
// be terminal; Destroy reports ErrSessionInProgress rather than silently
// abandoning live state.
func (c *Context) Destroy() error {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()

	for _, s := range c.table.sendSlots {
		if s != nil {
			return newErr("Context.Destroy", ErrSessionInProgress, errf("send session %d still live", s.id))
		}
	}
	for _, r := range c.table.recvSlots {
		if r != nil {
			return newErr("Context.Destroy", ErrSessionInProgress, errf("receive session %d still live", r.id))
		}
	}
	return nil
}

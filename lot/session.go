package lot

import (
	log "github.com/sirupsen/logrus"
)

// header is the state shared by every session, send or receive alike, per
// spec.md §9's "tagged union with two variants, not union+discriminant"
// design note: sendSession and receiveSession each embed a header rather
// than sharing one struct behind a kind field.
type header struct {
	id     uint16
	params Params

	idx int    // slot index within the owning table
	gen uint32 // generation of that slot, to guard late timer callbacks

	link  Link
	codec ControlCodec

	onEvent EventCallback
}

func (h *header) handle() SessionHandle {
	return SessionHandle{id: h.id, gen: h.gen}
}

func (h *header) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"session": h.id,
		"gen":     h.gen,
	})
}

func (h *header) emit(kind EventKind, err error) {
	if h.onEvent == nil {
		return
	}
	h.onEvent(Event{Session: h.handle(), Kind: kind, Err: err})
}

// totalBlocks returns the number of blocks needed to carry an object of
// the given length under these Params.
func (p Params) totalBlocks(objectLen int) int {
	bs := p.BlockSize()
	return (objectLen + bs - 1) / bs
}

// windowBlockCount returns how many blocks belong to the window starting
// at windowBaseOffset, which is windowSize except possibly for the final,
// partial window.
func (p Params) windowBlockCount(windowBaseOffset, objectLen int) int {
	bs := p.BlockSize()
	remaining := p.totalBlocks(objectLen) - windowBaseOffset/bs
	if remaining > int(p.WindowSize) {
		return int(p.WindowSize)
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// bitmapLen is the ACK bitmap's wire length for these Params.
func (p Params) bitmapLen() int {
	return bitmapByteLen(int(p.WindowSize))
}

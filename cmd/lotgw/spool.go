package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"

	"github.com/windowed-transfer/lot/lot"
)

// spoolSender watches a directory for newly-created regular files and hands
// each one to Context.Send whole, since an object's size must be known at
// send time.
type spoolSender struct {
	ctx     *lot.Context
	dir     string
	params  lot.Params
	watcher *fsnotify.Watcher

	knownFiles sync.Map
}

func newSpoolSender(ctx *lot.Context, dir string, params lot.Params) (*spoolSender, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		return nil, err
	}

	return &spoolSender{ctx: ctx, dir: dir, params: params, watcher: watcher}, nil
}

// run processes fsnotify events until the watcher is closed.
func (s *spoolSender) run() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create == 0 {
				continue
			}
			s.handleCreate(ev.Name)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Error("Spool watcher errored")
		}
	}
}

func (s *spoolSender) handleCreate(path string) {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		rel = path
	}
	if _, known := s.knownFiles.Load(rel); known {
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	object, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).WithField("file", path).Warn("Reading spooled file errored")
		return
	}

	s.knownFiles.Store(rel, struct{}{})

	logger := log.WithField("file", path)
	handle, err := s.ctx.Send(object, s.params, func(e lot.Event) {
		logger.WithField("event", e.Kind).WithError(e.Err).Info("Send session event")
	})
	if err != nil {
		logger.WithError(err).Error("Sending spooled file errored")
		return
	}

	logger.WithField("session", handle.ID()).Info("Started send session for spooled file")
}

func (s *spoolSender) close() error {
	return s.watcher.Close()
}

// spoolReceiver buffers the object currently being received and, on
// completion, writes it to a file in dir named after the completing
// session's id.
//
// lot.BlockCallback carries no session identifier (spec.md's on_block has
// the same shape), so this only disambiguates correctly with at most one
// receive session active at a time — the expected case for a single BLE
// peer per gateway link. The daemon's context admits up to 4 receive
// sessions; concurrent ones share this single buffer.
type spoolReceiver struct {
	dir string

	mu  sync.Mutex
	buf []byte
}

func newSpoolReceiver(dir string) *spoolReceiver {
	return &spoolReceiver{dir: dir}
}

// onBlock is installed as the Context's BlockCallback.
func (r *spoolReceiver) onBlock(offset int, data []byte, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buf == nil {
		r.buf = make([]byte, total)
	}
	copy(r.buf[offset:], data)
}

// onEvent is installed as the Context's EventCallback and flushes the
// completed object to disk, or drops the buffer on failure.
func (r *spoolReceiver) onEvent(e lot.Event) {
	switch e.Kind {
	case lot.ReceiveStarted:
		r.mu.Lock()
		r.buf = nil
		r.mu.Unlock()

	case lot.ReceiveComplete:
		r.flush(e.Session.ID())

	case lot.ReceiveFailed:
		r.mu.Lock()
		r.buf = nil
		r.mu.Unlock()
	}
}

func (r *spoolReceiver) flush(id uint16) {
	r.mu.Lock()
	buf := r.buf
	r.buf = nil
	r.mu.Unlock()

	if buf == nil {
		return
	}

	path := filepath.Join(r.dir, fmt.Sprintf("session-%d", id))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		log.WithError(err).WithField("file", path).Error("Writing received object errored")
		return
	}
	log.WithField("file", path).WithField("bytes", len(buf)).Info("Wrote received object")
}

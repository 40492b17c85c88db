package lotnet

import (
	"fmt"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"
)

// WSLink is a lot.Link backed by a *websocket.Conn. Unlike TCPLink, no
// length prefix is needed: gorilla/websocket already preserves message
// boundaries, so one binary WebSocket message is exactly one datagram.
type WSLink struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	cbMu sync.Mutex
	cb   func(b []byte)

	readOnce  sync.Once
	closeOnce sync.Once
}

func newWSLink(conn *websocket.Conn) *WSLink {
	return &WSLink{conn: conn}
}

// DialWebSocket establishes an outbound WebSocket connection and wraps it
// as a Link.
func DialWebSocket(address string) (*WSLink, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address, nil)
	if err != nil {
		return nil, err
	}
	return newWSLink(conn), nil
}

// SendDatagram writes b as one binary WebSocket message.
func (l *WSLink) SendDatagram(b []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteMessage(websocket.BinaryMessage, b)
}

// RegisterReceiveCallback installs fn and starts the background read loop.
// As with TCPLink, fn always runs off the read-loop goroutine, never nested
// inside a SendDatagram call.
func (l *WSLink) RegisterReceiveCallback(fn func(b []byte)) {
	l.cbMu.Lock()
	l.cb = fn
	l.cbMu.Unlock()

	l.readOnce.Do(func() { go l.readLoop() })
}

func (l *WSLink) readLoop() {
	logger := log.WithField("lotnet", l.conn.RemoteAddr())

	for {
		msgType, payload, err := l.conn.ReadMessage()
		if err != nil {
			logger.WithError(err).Debug("WebSocket link read loop exiting")
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		l.cbMu.Lock()
		cb := l.cb
		l.cbMu.Unlock()

		if cb != nil {
			cb(payload)
		}
	}
}

// Close closes the underlying connection.
func (l *WSLink) Close() error {
	var err error
	l.closeOnce.Do(func() { err = l.conn.Close() })
	return err
}

func (l *WSLink) String() string {
	return fmt.Sprintf("lotnet-ws://%v", l.conn.RemoteAddr())
}

// WSListener is a http.Handler that upgrades inbound HTTP connections to
// WebSockets and hands each one to onAccept as a fresh WSLink.
type WSListener struct {
	onAccept func(*WSLink)
	upgrader websocket.Upgrader
}

// NewWSListener prepares a listener; every successfully upgraded connection
// is passed to onAccept.
func NewWSListener(onAccept func(*WSLink)) *WSListener {
	return &WSListener{
		onAccept: onAccept,
		upgrader: websocket.Upgrader{},
	}
}

// ServeHTTP implements http.Handler.
func (l *WSListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Upgrading WebSocket connection errored")
		return
	}
	l.onAccept(newWSLink(conn))
}

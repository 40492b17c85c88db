// Package lotnet provides concrete lot.Link implementations over ordinary
// network transports: a length-prefixed TCP stream and a WebSocket
// connection.
package lotnet

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// tcpLengthHeaderLen is the size of the length prefix written ahead of every
// datagram on the wire, the smallest concession needed to recover message
// boundaries from a byte stream.
const tcpLengthHeaderLen = 4

// TCPLink is a lot.Link backed by a single net.Conn, framing each datagram
// with a 4-byte big-endian length prefix since TCP delivers a byte
// stream, not discrete messages.
type TCPLink struct {
	conn net.Conn

	mu sync.Mutex
	cb func(b []byte)

	readOnce  sync.Once
	closeOnce sync.Once
}

// newTCPLink wraps an already-established connection.
func newTCPLink(conn net.Conn) *TCPLink {
	return &TCPLink{conn: conn}
}

// DialTCP establishes an outbound TCP connection and wraps it as a Link.
func DialTCP(address string) (*TCPLink, error) {
	conn, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return newTCPLink(conn), nil
}

// SendDatagram writes the length-prefixed datagram to the connection.
func (l *TCPLink) SendDatagram(b []byte) error {
	header := make([]byte, tcpLengthHeaderLen)
	binary.BigEndian.PutUint32(header, uint32(len(b)))

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.conn.Write(header); err != nil {
		return err
	}
	if _, err := l.conn.Write(b); err != nil {
		return err
	}
	return nil
}

// RegisterReceiveCallback installs fn and starts the background read loop
// that decodes length-prefixed datagrams off the connection. fn is invoked
// from the read-loop goroutine, never from within SendDatagram, so a Link
// consumer holding its own lock while calling SendDatagram can never
// deadlock against its own inbound delivery.
func (l *TCPLink) RegisterReceiveCallback(fn func(b []byte)) {
	l.mu.Lock()
	l.cb = fn
	l.mu.Unlock()

	l.readOnce.Do(func() { go l.readLoop() })
}

func (l *TCPLink) readLoop() {
	logger := log.WithField("lotnet", l.conn.RemoteAddr())

	header := make([]byte, tcpLengthHeaderLen)
	for {
		if _, err := io.ReadFull(l.conn, header); err != nil {
			if err != io.EOF {
				logger.WithError(err).Debug("TCP link read loop exiting")
			}
			return
		}

		n := binary.BigEndian.Uint32(header)
		payload := make([]byte, n)
		if _, err := io.ReadFull(l.conn, payload); err != nil {
			logger.WithError(err).Debug("TCP link read loop exiting mid-datagram")
			return
		}

		l.mu.Lock()
		cb := l.cb
		l.mu.Unlock()

		if cb != nil {
			cb(payload)
		}
	}
}

// Close closes the underlying connection.
func (l *TCPLink) Close() error {
	var err error
	l.closeOnce.Do(func() { err = l.conn.Close() })
	return err
}

func (l *TCPLink) String() string {
	return fmt.Sprintf("lotnet-tcp://%v", l.conn.RemoteAddr())
}

// TCPListener accepts inbound TCP connections and hands each one to
// onAccept as a fresh TCPLink. Session construction is delegated to the
// caller rather than a shared registration point, since each connection
// here corresponds to an independent windowed-transfer Context.
type TCPListener struct {
	listenAddress string
	onAccept      func(*TCPLink)

	ln net.Listener

	closeSyn chan struct{}
	closeAck chan struct{}
}

// NewTCPListener prepares a listener for listenAddress (e.g. ":2323"). Every
// accepted connection is passed to onAccept once wrapped as a Link.
func NewTCPListener(listenAddress string, onAccept func(*TCPLink)) *TCPListener {
	return &TCPListener{
		listenAddress: listenAddress,
		onAccept:      onAccept,
	}
}

// Start begins accepting connections in a background goroutine.
func (l *TCPListener) Start() error {
	ln, err := net.Listen("tcp", l.listenAddress)
	if err != nil {
		return err
	}
	l.ln = ln
	l.closeSyn = make(chan struct{})
	l.closeAck = make(chan struct{})

	go l.handler()

	return nil
}

func (l *TCPListener) handler() {
	logger := log.WithField("lotnet", l.listenAddress)
	logger.Info("Starting TCP listener")

	defer func() {
		logger.Info("Closing down TCP listener")
		close(l.closeAck)
	}()

	for {
		select {
		case <-l.closeSyn:
			return

		default:
			if tcpLn, ok := l.ln.(*net.TCPListener); ok {
				if err := tcpLn.SetDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
					logger.WithError(err).Error("Setting accept deadline errored")
					return
				}
			}

			conn, err := l.ln.Accept()
			if err != nil {
				continue
			}

			l.onAccept(newTCPLink(conn))
		}
	}
}

// Close stops accepting new connections.
func (l *TCPListener) Close() {
	close(l.closeSyn)
	if err := l.ln.Close(); err != nil {
		log.WithError(err).Warn("Closing TCP listener errored")
	}
	<-l.closeAck
}

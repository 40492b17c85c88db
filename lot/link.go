package lot

// Link is the narrow capability interface the core consumes from the
// physical transport. It is injected at Context creation and the core
// never names a concrete implementation, per spec.md §9's guidance on
// dynamic dispatch for the link/encoder.
//
// The link is assumed to deliver bounded-size datagrams out-of-order but
// uncorrupted; any corruption detection is the link's responsibility.
type Link interface {
	// SendDatagram synchronously emits one datagram. A partial send must
	// be surfaced as an error, not a partial byte count, since spec.md §7
	// treats any partial send as a network error.
	SendDatagram(b []byte) error

	// RegisterReceiveCallback installs fn to be invoked once per inbound
	// datagram. Only one callback may be registered; a second call
	// replaces the first.
	RegisterReceiveCallback(fn func(b []byte))
}

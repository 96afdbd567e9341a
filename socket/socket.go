// Package socket defines the transport capability the send/receive
// engine drives, plus a handful of concrete implementations: an
// in-memory iterator socket for tests, a pcap-file-backed socket for
// offline work, and a control pipe used to unblock a blocked select.
//
// The shape mirrors scapy's SuperSocket: send one packet, receive one
// packet, and a select() primitive usable across heterogeneous socket
// sets — generalized from the teacher's borrow-many-return-many
// RingReader/RingReceiver cursor (snf/ring_reader.go,
// snf/receiver.go), which plays the same "one handle, many frames"
// role for a single vendor's hardware.
package socket

import (
	"errors"
	"io"
	"time"

	"github.com/yerden/gosndrcv/packet"
)

// ErrClosed is returned by Recv/Send once the socket has been closed.
var ErrClosed = errors.New("socket: closed")

// Socket is the transport contract the sniffer, send engine, and
// coordinator depend on. Implementations need not be safe for
// concurrent Send and Recv from multiple goroutines unless documented
// otherwise; the engine never does so deliberately once ControlPipe
// is used to unblock a blocked select.
type Socket interface {
	// Send transmits pkt. Callers are expected to call
	// pkt.SetSentTime immediately around this call.
	Send(pkt packet.Packet) error

	// Recv returns the next available packet, blocking according to
	// the socket's own semantics. It returns io.EOF once the
	// underlying source is exhausted (e.g. end of a pcap file).
	Recv() (packet.Packet, error)

	// Fd returns a file descriptor usable with select()/poll(), or
	// -1 if the socket cannot be waited on that way (e.g. a pure
	// in-memory iterator, which is always ready).
	Fd() int

	// Close releases the socket's resources. Calling Close twice is
	// a no-op.
	Close() error

	// Nonblocking reports whether Recv returns immediately (possibly
	// with an error) rather than waiting for data.
	Nonblocking() bool

	// Iface names the interface or source this socket reads from,
	// used to label packets via SetSniffedOn.
	Iface() string
}

// Selector waits until at least one of socks is ready to Recv. It is
// a thin, portable layer atop each socket's Fd(); sockets that return
// -1 from Fd() are treated as always-ready, matching scapy's handling
// of non-selectable sources in __select (it just recv()s straight
// away for such sockets).
type Selector interface {
	Select(socks []Socket, timeout time.Duration) (ready []Socket, err error)
}

var _ io.Closer = Socket(nil)

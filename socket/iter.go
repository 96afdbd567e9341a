package socket

import (
	"io"
	"sync"

	"github.com/yerden/gosndrcv/packet"
)

// IterSocket is an in-memory, always-ready Socket backed by a fixed
// slice of packets — the portable stand-in for scapy's use of plain
// lists/iterators wherever a "socket" is really just canned data
// (tests, replay-from-memory, `Sr` called against a PacketSource).
//
// Sends are recorded rather than transmitted; Recv replays the
// backing slice in order. Fd always returns -1: IterSocket never
// blocks, so a Selector should treat it as immediately ready.
type IterSocket struct {
	iface string

	mu    sync.Mutex
	recv  []packet.Packet
	pos   int
	sent  []packet.Packet
	closed bool
}

// NewIterSocket returns a socket that yields pkts in order from
// Recv and records every Send into Sent().
func NewIterSocket(iface string, pkts []packet.Packet) *IterSocket {
	return &IterSocket{iface: iface, recv: pkts}
}

// Send records pkt and reports success. It never fails unless the
// socket has been closed.
func (s *IterSocket) Send(pkt packet.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.sent = append(s.sent, pkt)
	return nil
}

// Recv returns the next queued packet, or io.EOF once exhausted.
func (s *IterSocket) Recv() (packet.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.pos >= len(s.recv) {
		return nil, io.EOF
	}
	p := s.recv[s.pos]
	s.pos++
	if p != nil {
		p.SetSniffedOn(s.iface)
	}
	return p, nil
}

// Fd always reports -1: this socket is never select()-able, it is
// always immediately ready or immediately EOF.
func (s *IterSocket) Fd() int { return -1 }

// Close marks the socket unusable. Idempotent.
func (s *IterSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Nonblocking is always true for an in-memory source.
func (s *IterSocket) Nonblocking() bool { return true }

// Iface returns the label packets are stamped with.
func (s *IterSocket) Iface() string { return s.iface }

// Sent returns every packet handed to Send, in order. Used by tests
// and by SrFlood-style callers that want to know what actually went
// out.
func (s *IterSocket) Sent() []packet.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]packet.Packet, len(s.sent))
	copy(out, s.sent)
	return out
}

// Feed appends more packets for Recv to yield, letting a test
// simulate a reply arriving after some sends have already happened.
func (s *IterSocket) Feed(pkts ...packet.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recv = append(s.recv, pkts...)
}

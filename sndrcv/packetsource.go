// Package sndrcv implements the send/receive coordination engine: the
// send engine, the sniffer engine, the match coordinator that pairs
// replies to stimuli, the flood and loop controllers, and the bridge
// forwarder. It is the Go expression of scapy's sendrecv.py, built
// atop the socket.Socket and packet.Packet capabilities.
package sndrcv

import "github.com/yerden/gosndrcv/packet"

// PacketSource is a lazy, possibly infinite sequence of packets to
// transmit — the Go shape of scapy's acceptance of a generator, a
// concrete list, or a single packet as a send target.
type PacketSource interface {
	// Next returns the next packet to send, or ok=false once the
	// source is exhausted.
	Next() (packet.Packet, bool)
}

// SliceSource adapts a concrete, already-materialized slice.
type SliceSource struct {
	pkts []packet.Packet
	pos  int
}

// NewSliceSource wraps pkts for one pass over its contents.
func NewSliceSource(pkts []packet.Packet) *SliceSource {
	return &SliceSource{pkts: pkts}
}

// Next returns the next element of the slice.
func (s *SliceSource) Next() (packet.Packet, bool) {
	if s.pos >= len(s.pkts) {
		return nil, false
	}
	p := s.pkts[s.pos]
	s.pos++
	return p, true
}

// Len reports the number of packets in the slice, matching scapy's
// ability to know a concrete sequence's length up front.
func (s *SliceSource) Len() int { return len(s.pkts) }

// Peek returns the first element without consuming it, or ok=false if
// the slice is empty. Used by the coordinator to inspect the leading
// stimulus's route hint without disturbing the send cursor.
func (s *SliceSource) Peek() (packet.Packet, bool) {
	if len(s.pkts) == 0 {
		return nil, false
	}
	return s.pkts[0], true
}

// OneSource adapts a single packet, yielded exactly once — the
// analogue of scapy accepting a bare Packet instead of a list.
type OneSource struct {
	pkt  packet.Packet
	done bool
}

// NewOneSource wraps a single packet.
func NewOneSource(pkt packet.Packet) *OneSource {
	return &OneSource{pkt: pkt}
}

// Next yields the wrapped packet once.
func (s *OneSource) Next() (packet.Packet, bool) {
	if s.done {
		return nil, false
	}
	s.done = true
	return s.pkt, true
}

// PrebuildSource materializes an underlying, possibly lazy,
// PacketSource once, into a SliceSource, matching scapy's `prebuild`
// coordinator option ("if prebuild, materialize the iterable").
func PrebuildSource(src PacketSource) *SliceSource {
	var pkts []packet.Packet
	for {
		p, ok := src.Next()
		if !ok {
			break
		}
		pkts = append(pkts, p)
	}
	return NewSliceSource(pkts)
}

// resettable is satisfied by sources that support more than one pass
// (used by the send engine's loop/count repeats, the flood generator
// and SrLoop, which all run over the same stimuli more than once).
type resettable interface {
	Reset()
}

// Reset rewinds s to its first element, supporting repeated passes
// over the same slice.
func (s *SliceSource) Reset() { s.pos = 0 }

// Reset rewinds s so Next yields its packet again.
func (s *OneSource) Reset() { s.done = false }

func resetIfPossible(src PacketSource) {
	if r, ok := src.(resettable); ok {
		r.Reset()
	}
}

// Package session provides the decoder capability the sniffer engine
// uses to turn a socket's raw reads into zero or more logical
// packets. The default decoder is a passthrough, mirroring scapy's
// DefaultSession; session.TCPReassembly adds stream reassembly for
// callers that need it.
package session

import (
	"io"

	"github.com/yerden/gosndrcv/packet"
)

// Socket is the minimal capability session decoders need: one blocking
// read of the next raw packet. It is satisfied by socket.Socket.
type Socket interface {
	Recv() (packet.Packet, error)
}

// Decoder turns socket reads into logical packets. Implementations
// may buffer internally and return zero, one, or many packets per
// underlying Recv call, exactly as spec.md §4.2 allows for
// defragmentation/reassembly decoders.
type Decoder interface {
	// Recv reads from s and returns whatever logical packets became
	// available as a result — possibly none, possibly several. It
	// returns io.EOF once s is exhausted.
	Recv(s Socket) ([]packet.Packet, error)
}

// Default is the passthrough decoder: one raw read yields at most one
// logical packet, same as scapy's DefaultSession delegating straight
// to socket.recv().
type Default struct{}

// Recv reads one packet from s and returns it as a single-element
// slice, or an empty slice if the socket reported nothing (never
// happens for socket.Socket, which treats "nothing" as io.EOF, but is
// kept for Decoder implementations that can legitimately not have a
// packet to return without that being end-of-stream).
func (Default) Recv(s Socket) ([]packet.Packet, error) {
	p, err := s.Recv()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	return []packet.Packet{p}, nil
}

// New returns the default passthrough decoder, for call sites that
// want a factory function the way scapy instantiates `session_class()`
// per sniff invocation with "no required arguments".
func New() Decoder { return Default{} }

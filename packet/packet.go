// Package packet defines the stimulus/reply contract used throughout
// gosndrcv. It mirrors scapy's Packet capability (hashret/answers/route)
// without pulling in a concrete dissection stack; see GoPacket
// (gopkt.go) in this package for a gopacket-backed implementation.
package packet

import (
	"net"
	"time"
)

// Packet is the external packet-layer contract the send/receive engine
// depends on. Any value satisfying it can be sent, matched, and
// reported on.
type Packet interface {
	// Hashret returns a fingerprint shared by a stimulus and its reply.
	// It must be commutative across request/response direction.
	Hashret() []byte

	// Answers reports whether the receiver is a reply to stim.
	Answers(stim Packet) bool

	// Route returns a routing hint: outbound interface name and the
	// resolved source/destination addresses.
	Route() (iface string, src, dst net.IP)

	// Time is when the packet was captured (zero for not-yet-sent
	// stimuli).
	Time() time.Time

	// SentTime is when the packet was actually handed to the socket.
	SentTime() time.Time

	// SetSentTime records the transmission timestamp. Called by the
	// send engine immediately before/after the socket write.
	SetSentTime(time.Time)

	// Summary is a one-line diagnostic description.
	Summary() string

	// SniffedOn is the label of the socket that produced this packet,
	// set by the sniffer engine. Empty for packets that were never
	// received (pure stimuli).
	SniffedOn() string
	SetSniffedOn(label string)
}

// QueryAnswer is an ordered (stimulus, reply) pair, as produced by the
// match coordinator.
type QueryAnswer struct {
	Query  Packet
	Answer Packet
}

// List is a simple named collection of packets, used for the sniffer's
// stored results and the coordinator's unanswered list.
type List struct {
	Name    string
	Packets []Packet
}

// Summary renders every packet's Summary, one per line.
func (l List) Summary() string {
	s := l.Name
	for _, p := range l.Packets {
		s += "\n  " + p.Summary()
	}
	return s
}

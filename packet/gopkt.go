package packet

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// GoPacket adapts a decoded gopacket.Packet to the Packet capability.
// It is the default concrete Packet used by the bundled Socket
// implementations; hashret/answers are derived from the innermost
// transport layer the way scapy derives them from its own layer tree.
//
// Grounded on the CaptureInfo bridging in the teacher's
// snf/gopacket.go, generalized from a single vendor capture format to
// any gopacket.Packet.
type GoPacket struct {
	gopacket.Packet
	captured time.Time
	sent     time.Time
	sniffed  string
}

// NewGoPacket wraps raw bytes decoded with the given link type into a
// GoPacket carrying ci's timestamp as its capture time.
func NewGoPacket(data []byte, linkType layers.LinkType, ci gopacket.CaptureInfo) *GoPacket {
	gp := gopacket.NewPacket(data, linkType, gopacket.Default)
	return &GoPacket{Packet: gp, captured: ci.Timestamp}
}

// Time returns the capture timestamp.
func (p *GoPacket) Time() time.Time { return p.captured }

// SentTime returns the transmit timestamp, zero if never sent.
func (p *GoPacket) SentTime() time.Time { return p.sent }

// SetSentTime records the transmit timestamp.
func (p *GoPacket) SetSentTime(t time.Time) { p.sent = t }

// SniffedOn returns the ingress label attached by the sniffer.
func (p *GoPacket) SniffedOn() string { return p.sniffed }

// SetSniffedOn records the ingress label.
func (p *GoPacket) SetSniffedOn(label string) { p.sniffed = label }

// Summary renders a one-line description naming the packet's decoded
// layers outermost first ("Ethernet / IPv4 / UDP / Payload"), matching
// scapy's packet.summary() usage throughout sendrecv.py.
func (p *GoPacket) Summary() string {
	s := ""
	for i, l := range p.Layers() {
		if i > 0 {
			s += " / "
		}
		s += l.LayerType().String()
	}
	return s
}

// Route reports the outbound interface hint (empty, resolved
// elsewhere) and the packet's network-layer src/dst, mirroring scapy's
// route() used by _interface_selection.
func (p *GoPacket) Route() (iface string, src, dst net.IP) {
	if nl := p.NetworkLayer(); nl != nil {
		flow := nl.NetworkFlow()
		a, b := flow.Endpoints()
		src, dst = net.IP(a.Raw()), net.IP(b.Raw())
	}
	return "", src, dst
}

// Hashret returns a fingerprint shared by a stimulus and its reply:
// the transport-layer protocol plus its two ports, sorted so the
// value is identical whether read from the request or the response
// side — the same commutativity property scapy's hashret()
// implementations provide for TCP/UDP/ICMP-style exchanges.
func (p *GoPacket) Hashret() []byte {
	var proto byte
	var a, b uint16

	switch {
	case p.Layer(layers.LayerTypeTCP) != nil:
		tcp := p.Layer(layers.LayerTypeTCP).(*layers.TCP)
		proto, a, b = 6, uint16(tcp.SrcPort), uint16(tcp.DstPort)
	case p.Layer(layers.LayerTypeUDP) != nil:
		udp := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
		proto, a, b = 17, uint16(udp.SrcPort), uint16(udp.DstPort)
	case p.Layer(layers.LayerTypeICMPv4) != nil:
		icmp := p.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
		proto, a, b = 1, icmp.Id, icmp.Seq
	default:
		proto = 0
	}

	if a > b {
		a, b = b, a
	}

	buf := make([]byte, 5)
	buf[0] = proto
	binary.BigEndian.PutUint16(buf[1:3], a)
	binary.BigEndian.PutUint16(buf[3:5], b)
	return buf
}

// Answers performs the deep check scapy's Packet.answers() does:
// the fingerprints must already match (checked by the caller via the
// outstanding table), the network-layer endpoints must be swapped
// src/dst of each other, and for TCP the ack must plausibly follow the
// stimulus's sequence number.
func (p *GoPacket) Answers(stim Packet) bool {
	other, ok := stim.(*GoPacket)
	if !ok {
		return false
	}

	nl, onl := p.NetworkLayer(), other.NetworkLayer()
	if nl == nil || onl == nil {
		return true // nothing more to check beyond the fingerprint
	}
	flow, oflow := nl.NetworkFlow(), onl.NetworkFlow()
	if flow != oflow.Reverse() {
		return false
	}

	tcp, otcp := p.Layer(layers.LayerTypeTCP), other.Layer(layers.LayerTypeTCP)
	if tcp != nil && otcp != nil {
		t, ot := tcp.(*layers.TCP), otcp.(*layers.TCP)
		return t.Ack >= ot.Seq
	}

	return true
}

// String implements fmt.Stringer for logging convenience.
func (p *GoPacket) String() string {
	return fmt.Sprintf("%s (sniffed_on=%s)", p.Summary(), p.sniffed)
}

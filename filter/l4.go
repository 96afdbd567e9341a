package filter

import (
	"encoding/binary"
)

// Header sizes and ethertypes for the byte-offset peeling below.
// Unchanged from the teacher's byte arithmetic; only the filter
// builders on top were generalized.
const (
	EthernetHdrLen = 14
	VlanHdrLen     = 4
	MplsHdrLen     = 4
)

const (
	MacAddrLen = 6
	IPv4HdrLen = 20
	IPv6HdrLen = 40
	TCPHdrLen  = 20
	UDPHdrLen  = 8
)

const (
	EtherTypeIPv4 = 0x0800
	EtherTypeVlan = 0x8100
	EtherTypeIPv6 = 0x86dd
)

const (
	ProtoTCP = 6
	ProtoUDP = 17
)

func PeelEthernet(p []byte) (offset int, ok bool) {
	return EthernetHdrLen, len(p) >= EthernetHdrLen
}

func EthernetSrcAddr(p []byte) (addr [MacAddrLen]byte) {
	copy(addr[:], p)
	return
}

func EthernetDstAddr(p []byte) (addr [MacAddrLen]byte) {
	copy(addr[:], p[MacAddrLen:])
	return
}

func EthernetEtherType(p []byte) (n uint16) {
	return binary.BigEndian.Uint16(p[2*MacAddrLen:])
}

func PeelVlan(p []byte) (offset int, ok bool) {
	return VlanHdrLen, len(p) >= VlanHdrLen
}

func VlanEtherType(p []byte) (n uint16) {
	return binary.BigEndian.Uint16(p)
}

func PeelMpls(p []byte) (offset int, ok bool) {
	return MplsHdrLen, len(p) >= MplsHdrLen
}

func PeelIPv4(p []byte) (offset int, ok bool) {
	if len(p) < IPv4HdrLen {
		return
	}

	var ver int
	ver, offset = int(p[0]&0xf0)>>4, int(p[0]&0xf)<<2

	if ver != 4 || offset < IPv4HdrLen {
		return
	}

	return offset, len(p) >= int(binary.BigEndian.Uint16(p[2:4]))
}

func IPv4SrcAddr(p []byte, addr []byte) {
	copy(addr, p[12:16])
}

func IPv4DstAddr(p []byte, addr []byte) {
	copy(addr, p[16:20])
}

func IPv4Proto(p []byte) byte {
	return p[9]
}

// PeelIPv6 skips the fixed 40-byte IPv6 header. Extension headers
// are not walked; callers matching on upper-layer ports against a
// packet with extension headers will simply not match, the same
// limitation scapy's own default BPF filters have for uncommon
// extension-header traffic.
func PeelIPv6(p []byte) (offset int, ok bool) {
	if len(p) < IPv6HdrLen {
		return
	}
	ver := int(p[0]&0xf0) >> 4
	if ver != 6 {
		return
	}
	return IPv6HdrLen, true
}

func IPv6SrcAddr(p []byte, addr []byte) {
	copy(addr, p[8:24])
}

func IPv6DstAddr(p []byte, addr []byte) {
	copy(addr, p[24:40])
}

func IPv6NextHeader(p []byte) byte {
	return p[6]
}

func PeelTCP(p []byte) (offset int, ok bool) {
	if len(p) < TCPHdrLen {
		return
	}
	offset = int(p[12]&0xf0) >> 2
	return offset, len(p) >= offset
}

func TCPSrcPort(p []byte) uint16 {
	return binary.BigEndian.Uint16(p[0:2])
}

func TCPDstPort(p []byte) uint16 {
	return binary.BigEndian.Uint16(p[2:4])
}

func PeelUDP(p []byte) (offset int, ok bool) {
	if len(p) < UDPHdrLen {
		return
	}
	totalLen := int(binary.BigEndian.Uint16(p[4:6]))
	return UDPHdrLen, len(p) >= totalLen && totalLen >= UDPHdrLen
}

func UDPSrcPort(p []byte) uint16 {
	return binary.BigEndian.Uint16(p[0:2])
}

func UDPDstPort(p []byte) uint16 {
	return binary.BigEndian.Uint16(p[2:4])
}

// peelToTransport walks Ethernet, any stacked VLAN tags, and IPv4/
// IPv6, returning the transport-layer protocol number and the
// remaining bytes starting at the transport header. ok is false if
// the frame is too short or not IP.
func peelToTransport(p []byte) (proto byte, rest []byte, ok bool) {
	offset, ok := PeelEthernet(p)
	if !ok {
		return 0, nil, false
	}
	eth, p := p[:offset], p[offset:]
	etherType := EthernetEtherType(eth)

	for etherType == EtherTypeVlan {
		if offset, ok = PeelVlan(p); !ok {
			return 0, nil, false
		}
		eth, p = p[:offset], p[offset:]
		etherType = VlanEtherType(eth)
	}

	switch etherType {
	case EtherTypeIPv4:
		if offset, ok = PeelIPv4(p); !ok {
			return 0, nil, false
		}
		ip := p[:offset]
		return IPv4Proto(ip), p[offset:], true
	case EtherTypeIPv6:
		if offset, ok = PeelIPv6(p); !ok {
			return 0, nil, false
		}
		ip := p[:offset]
		return IPv6NextHeader(ip), p[offset:], true
	default:
		return 0, nil, false
	}
}

// TCPPortFilter accepts frames whose TCP source or destination port
// is port, across IPv4 and IPv6, with or without stacked VLAN tags.
func TCPPortFilter(port uint16) FilterFunc {
	return func(p []byte) bool {
		proto, rest, ok := peelToTransport(p)
		if !ok || proto != ProtoTCP {
			return false
		}
		offset, ok := PeelTCP(rest)
		if !ok {
			return false
		}
		tcp := rest[:offset]
		return TCPSrcPort(tcp) == port || TCPDstPort(tcp) == port
	}
}

// UDPPortFilter accepts frames whose UDP source or destination port
// is port, across IPv4 and IPv6, with or without stacked VLAN tags.
func UDPPortFilter(port uint16) FilterFunc {
	return func(p []byte) bool {
		proto, rest, ok := peelToTransport(p)
		if !ok || proto != ProtoUDP {
			return false
		}
		offset, ok := PeelUDP(rest)
		if !ok {
			return false
		}
		udp := rest[:offset]
		return UDPSrcPort(udp) == port || UDPDstPort(udp) == port
	}
}

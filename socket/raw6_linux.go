//go:build linux

package socket

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/ipv6"

	"github.com/yerden/gosndrcv/packet"
)

// Raw6Socket is RawSocket's IPv6 counterpart. IPv6 raw sockets never
// support a header-inclusive send the way IPv4's IP_HDRINCL does, so
// there is no golang.org/x/net/ipv6 RawConn to mirror ipv4.RawConn
// with; instead golang.org/x/net/ipv6's PacketConn surfaces the
// kernel's per-datagram control message (hop limit, traffic class,
// source/destination), which Recv uses to reassemble a minimal IPv6
// header so callers still see a decodable *packet.GoPacket the way
// RawSocket's callers do.
type Raw6Socket struct {
	iface string
	proto string // "ip6:tcp", "ip6:udp", "ip6:58" (icmpv6), ...
	pconn *ipv6.PacketConn
	raw   net.PacketConn

	mu sync.Mutex
}

// DialRaw6 opens a raw IPv6 socket for protocol network (e.g.
// "ip6:tcp", "ip6:udp", "ip6:58"). iface is used only as a label, the
// same limitation DialRaw documents for IPv4.
func DialRaw6(iface, network string) (*Raw6Socket, error) {
	raw, err := net.ListenPacket(network, "::")
	if err != nil {
		return nil, fmt.Errorf("socket: raw6 listen %s: %w", network, err)
	}
	pconn := ipv6.NewPacketConn(raw)
	if err := pconn.SetControlMessage(ipv6.FlagHopLimit|ipv6.FlagSrc|ipv6.FlagDst|ipv6.FlagTrafficClass, true); err != nil {
		raw.Close()
		return nil, fmt.Errorf("socket: raw6 control message: %w", err)
	}
	return &Raw6Socket{iface: iface, proto: network, pconn: pconn, raw: raw}, nil
}

// Recv blocks until a datagram arrives, rebuilds a 40-byte IPv6
// header from the kernel's control message, and decodes header+
// payload with gopacket.
func (s *Raw6Socket) Recv() (packet.Packet, error) {
	buf := make([]byte, 65536)
	n, cm, _, err := s.pconn.ReadFrom(buf)
	if err != nil {
		return nil, err
	}
	payload := buf[:n]

	hdr := make([]byte, 40)
	hdr[0] = 6 << 4 // version 6; traffic class/flow label filled in below
	binary.BigEndian.PutUint16(hdr[4:6], uint16(len(payload)))
	hdr[6] = nextHeaderFor(s.proto)
	if cm != nil {
		hdr[0] |= byte(cm.TrafficClass) >> 4
		hdr[1] = byte(cm.TrafficClass) << 4
		hdr[7] = byte(cm.HopLimit)
		copy(hdr[8:24], cm.Src.To16())
		copy(hdr[24:40], cm.Dst.To16())
	}

	full := append(hdr, payload...)
	ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(full), Length: len(full)}
	p := packet.NewGoPacket(full, layers.LinkTypeRaw, ci)
	p.SetSniffedOn(s.iface)
	return p, nil
}

// Send extracts pkt's IPv6 payload and destination and writes it
// through the PacketConn's control-message path; the kernel fills in
// the header exactly as it would for any non-header-included raw
// write.
func (s *Raw6Socket) Send(pkt packet.Packet) error {
	gp, ok := pkt.(*packet.GoPacket)
	if !ok {
		return fmt.Errorf("socket: raw6 send requires a *packet.GoPacket, got %T", pkt)
	}
	ipLayer := gp.Layer(layers.LayerTypeIPv6)
	if ipLayer == nil {
		return fmt.Errorf("socket: raw6 send requires an IPv6 layer")
	}
	ip6 := ipLayer.(*layers.IPv6)

	cm := &ipv6.ControlMessage{
		HopLimit:     int(ip6.HopLimit),
		TrafficClass: int(ip6.TrafficClass),
		Src:          ip6.SrcIP,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.pconn.WriteTo(ip6.Payload, cm, &net.IPAddr{IP: ip6.DstIP})
	return err
}

func nextHeaderFor(proto string) byte {
	switch proto {
	case "ip6:tcp":
		return 6
	case "ip6:udp":
		return 17
	default:
		return 58 // ICMPv6
	}
}

// Fd exposes the underlying file descriptor for select-based
// demultiplexing, or -1 if it can't be obtained.
func (s *Raw6Socket) Fd() int {
	sc, ok := s.raw.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	raw.Control(func(f uintptr) { fd = int(f) })
	return fd
}

// Close releases the socket.
func (s *Raw6Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw.Close()
}

// Nonblocking is false: ReadFrom blocks until a datagram arrives.
func (s *Raw6Socket) Nonblocking() bool { return false }

// Iface returns the label this socket stamps onto received packets.
func (s *Raw6Socket) Iface() string { return s.iface }

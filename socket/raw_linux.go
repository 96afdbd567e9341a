//go:build linux

package socket

import (
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/ipv4"

	"github.com/yerden/gosndrcv/packet"
)

// RawSocket is a live layer-3 socket built on golang.org/x/net/ipv4's
// RawConn, the portable substitute for the teacher's AF_PACKET/SNF
// ring when no vendor NIC API is available. It sends/receives whole
// IPv4 datagrams and decodes them with gopacket, the same pairing the
// teacher uses between its cgo ring and gopacket's layers package
// (snf/gopacket.go).
type RawSocket struct {
	iface string
	conn  *ipv4.RawConn
	pconn net.PacketConn

	mu sync.Mutex
}

// DialRaw opens a raw IP socket labelled iface (used only as a label;
// the socket is not bound to that device). network is typically "ip4:tcp",
// "ip4:udp", or "ip4:1" (icmp), following net.ListenPacket's raw IP
// protocol syntax.
func DialRaw(iface, network string) (*RawSocket, error) {
	pconn, err := net.ListenPacket(network, "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("socket: raw listen %s: %w", network, err)
	}
	rconn, err := ipv4.NewRawConn(pconn)
	if err != nil {
		pconn.Close()
		return nil, fmt.Errorf("socket: raw conn: %w", err)
	}
	return &RawSocket{iface: iface, conn: rconn, pconn: pconn}, nil
}

// Recv blocks until a datagram arrives, decodes it as IPv4, and
// stamps it with this socket's interface label.
func (s *RawSocket) Recv() (packet.Packet, error) {
	buf := make([]byte, 65536)
	header, payload, _, err := s.conn.ReadFrom(buf)
	if err != nil {
		return nil, err
	}

	full := make([]byte, 0, header.Len+len(payload))
	hdrBytes, err := header.Marshal()
	if err != nil {
		return nil, fmt.Errorf("socket: marshal ip header: %w", err)
	}
	full = append(full, hdrBytes...)
	full = append(full, payload...)

	ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(full), Length: len(full)}
	p := packet.NewGoPacket(full, layers.LinkTypeRaw, ci)
	p.SetSniffedOn(s.iface)
	return p, nil
}

// Send writes pkt's IPv4 datagram to the wire, letting the kernel
// fill in routing.
func (s *RawSocket) Send(pkt packet.Packet) error {
	gp, ok := pkt.(*packet.GoPacket)
	if !ok {
		return fmt.Errorf("socket: raw send requires a *packet.GoPacket, got %T", pkt)
	}

	ipLayer := gp.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return fmt.Errorf("socket: raw send requires an IPv4 layer")
	}
	ip4 := ipLayer.(*layers.IPv4)

	header := &ipv4.Header{
		Version:  4,
		Len:      int(ip4.IHL) * 4,
		TOS:      int(ip4.TOS),
		TotalLen: int(ip4.Length),
		ID:       int(ip4.Id),
		FragOff:  int(ip4.FragOffset),
		TTL:      int(ip4.TTL),
		Protocol: int(ip4.Protocol),
		Src:      ip4.SrcIP,
		Dst:      ip4.DstIP,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteTo(header, ip4.Payload, nil)
}

// Fd exposes the underlying file descriptor for select-based
// demultiplexing, or -1 if the platform's net.PacketConn doesn't
// expose one.
func (s *RawSocket) Fd() int {
	sc, ok := s.pconn.(syscall.Conn)
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
func (s *RawSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pconn.Close()
}

// Nonblocking is false: ReadFrom blocks until a datagram arrives.
func (s *RawSocket) Nonblocking() bool { return false }

// Iface returns the label this socket stamps onto received packets.
func (s *RawSocket) Iface() string { return s.iface }

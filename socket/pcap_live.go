//go:build pcap_live

package socket

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket/pcap"

	"github.com/yerden/gosndrcv/packet"
)

// LivePcapSocket wraps a live gopacket/pcap.Handle: the cgo/libpcap
// counterpart to PcapSocket's offline pcapgo reader, gated behind the
// pcap_live build tag so a default build never needs libpcap/cgo
// installed. Grounded on the pack's own pcap.OpenLive call sites
// (e.g. flow-enricher's pcap_consumer.go and the gravwell/HoneyBadger
// sniffers under other_examples/), adapted to this package's Socket
// interface instead of a standalone capture loop.
type LivePcapSocket struct {
	iface  string
	handle *pcap.Handle

	mu     sync.Mutex
	closed bool
}

// OpenLivePcap opens iface for live capture with the given snapshot
// length and promiscuous mode, blocking indefinitely for each read —
// the same pcap.BlockForever timeout the pack's live-capture examples
// use.
func OpenLivePcap(iface string, snaplen int32, promisc bool) (*LivePcapSocket, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("socket: pcap open live %s: %w", iface, err)
	}
	return &LivePcapSocket{iface: iface, handle: handle}, nil
}

// SetBPFFilter compiles and installs a BPF filter on the live handle,
// the libpcap-native counterpart to this package's byte-level
// filter.Filter predicates.
func (s *LivePcapSocket) SetBPFFilter(expr string) error {
	return s.handle.SetBPFFilter(expr)
}

// Recv blocks for the next captured frame and decodes it with
// gopacket using the handle's own link type.
func (s *LivePcapSocket) Recv() (packet.Packet, error) {
	data, ci, err := s.handle.ZeroCopyReadPacketData()
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	if ci.Timestamp.IsZero() {
		ci.Timestamp = time.Now()
	}
	p := packet.NewGoPacket(cp, s.handle.LinkType(), ci)
	p.SetSniffedOn(s.iface)
	return p, nil
}

// Send writes pkt's raw frame bytes to the wire via the live handle.
func (s *LivePcapSocket) Send(pkt packet.Packet) error {
	gp, ok := pkt.(*packet.GoPacket)
	if !ok {
		return fmt.Errorf("socket: pcap live send requires a *packet.GoPacket, got %T", pkt)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.handle.WritePacketData(gp.Data())
}

// Fd always reports -1: gopacket/pcap does not expose a portable
// select()-able descriptor for a live handle, so the sniffer treats
// this socket as always-ready, the same fallback PcapSocket uses for
// offline files.
func (s *LivePcapSocket) Fd() int { return -1 }

// Close releases the live handle. Idempotent.
func (s *LivePcapSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.handle.Close()
	return nil
}

// Nonblocking is false: ZeroCopyReadPacketData blocks (per
// pcap.BlockForever) until a frame arrives.
func (s *LivePcapSocket) Nonblocking() bool { return false }

// Iface returns the label this socket stamps onto captured packets.
func (s *LivePcapSocket) Iface() string { return s.iface }

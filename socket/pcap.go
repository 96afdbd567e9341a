package socket

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/yerden/gosndrcv/packet"
)

// PcapSocket is an offline Socket backed by a pcap/pcapng file: Recv
// replays the file's packets, Send appends to an optional writer.
// This is the portable replacement for the teacher's SNF
// handle/ring, generalized from a vendor capture format to the
// standard on-disk capture formats via gopacket/pcapgo, the same
// library examples/sniffer/main.go uses to write results.
type PcapSocket struct {
	iface string

	mu     sync.Mutex
	file   *os.File
	reader *pcapgo.Reader
	ngRdr  *pcapgo.NgReader
	link   layers.LinkType

	writer *pcapgo.Writer
	closed bool
}

// OpenPcapRead opens path for reading, auto-detecting classic pcap
// vs. pcapng by file magic the way pcapgo's own readers require the
// caller to pick.
func OpenPcapRead(iface, path string) (*PcapSocket, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("socket: open %s: %w", path, err)
	}

	s := &PcapSocket{iface: iface, file: f}

	if r, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions); err == nil {
		s.ngRdr = r
		s.link = r.LinkType()
		return s, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("socket: %s is neither pcap nor pcapng: %w", path, err)
	}
	s.reader = r
	s.link = r.LinkType()
	return s, nil
}

// CreatePcapWrite creates path for writing in classic pcap format and
// returns a send-only socket, mirroring scapy's wrpcap used alongside
// sniff(prn=...).
func CreatePcapWrite(iface, path string, link layers.LinkType) (*PcapSocket, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("socket: create %s: %w", path, err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, link); err != nil {
		f.Close()
		return nil, fmt.Errorf("socket: write pcap header: %w", err)
	}
	return &PcapSocket{iface: iface, file: f, writer: w, link: link}, nil
}

// Recv decodes and returns the next packet in the file, io.EOF at
// end of file.
func (s *PcapSocket) Recv() (packet.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	var data []byte
	var ci gopacket.CaptureInfo
	var err error
	switch {
	case s.ngRdr != nil:
		data, ci, err = s.ngRdr.ZeroCopyReadPacketData()
	case s.reader != nil:
		data, ci, err = s.reader.ZeroCopyReadPacketData()
	default:
		return nil, fmt.Errorf("socket: %s is write-only", s.iface)
	}
	if err != nil {
		return nil, err
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	p := packet.NewGoPacket(cp, s.link, ci)
	p.SetSniffedOn(s.iface)
	return p, nil
}

// Send appends pkt's raw bytes to the output file.
func (s *PcapSocket) Send(pkt packet.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.writer == nil {
		return fmt.Errorf("socket: %s is read-only", s.iface)
	}

	gp, ok := pkt.(*packet.GoPacket)
	if !ok {
		return fmt.Errorf("socket: pcap writer requires a *packet.GoPacket, got %T", pkt)
	}
	data := gp.Data()
	ci := gopacket.CaptureInfo{
		Timestamp:     gp.Time(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	return s.writer.WritePacket(ci, data)
}

// Fd always reports -1: file-backed reads/writes are never
// select()-able in the way a live socket is.
func (s *PcapSocket) Fd() int { return -1 }

// Close closes the backing file. Idempotent.
func (s *PcapSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// Nonblocking is always true: file I/O either returns data or EOF
// immediately.
func (s *PcapSocket) Nonblocking() bool { return true }

// Iface returns the label this socket stamps onto packets it reads.
func (s *PcapSocket) Iface() string { return s.iface }

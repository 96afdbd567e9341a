package sndrcv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/yerden/gosndrcv/filter"
	"github.com/yerden/gosndrcv/packet"
	"github.com/yerden/gosndrcv/socket"
)

func TestSnifferCountQuotaStops(t *testing.T) {
	sock := newEchoSocket(nil)
	defer sock.Close()

	sock.feed(
		&fakePacket{name: "P1", fp: "h"},
		&fakePacket{name: "P2", fp: "h"},
		&fakePacket{name: "P3", fp: "h"},
	)

	s, err := NewSniffer(SniffOptions{
		Sockets: map[socket.Socket]string{sock: "eth0"},
		Count:   2,
		Store:   true,
	})
	require.NoError(t, err)

	results, err := s.Sniff(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, 2, s.Count())
}

func TestSnifferLFilterExcludes(t *testing.T) {
	sock := newEchoSocket(nil)
	defer sock.Close()

	sock.feed(&fakePacket{name: "keep"}, &fakePacket{name: "drop"})

	s, err := NewSniffer(SniffOptions{
		Sockets: map[socket.Socket]string{sock: "eth0"},
		Count:   1,
		Store:   true,
		LFilter: func(p packet.Packet) bool { return p.(*fakePacket).name == "keep" },
	})
	require.NoError(t, err)

	results, err := s.Sniff(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "keep", results[0].(*fakePacket).name)
}

func TestSnifferStopFilterEndsEarly(t *testing.T) {
	sock := newEchoSocket(nil)
	defer sock.Close()

	sock.feed(
		&fakePacket{name: "a"},
		&fakePacket{name: "stop-here"},
		&fakePacket{name: "never-seen"},
	)

	s, err := NewSniffer(SniffOptions{
		Sockets: map[socket.Socket]string{sock: "eth0"},
		Store:   true,
		StopFilter: func(p packet.Packet) bool {
			return p.(*fakePacket).name == "stop-here"
		},
	})
	require.NoError(t, err)

	results, err := s.Sniff(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "stop-here", results[1].(*fakePacket).name)
}

func TestSnifferStopUnblocksSelect(t *testing.T) {
	sock := newEchoSocket(nil) // no data ever arrives
	defer sock.Close()

	s, err := NewSniffer(SniffOptions{
		Sockets: map[socket.Socket]string{sock: "eth0"},
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.Sniff(context.Background())
		close(done)
	}()

	// Give the sniffer a moment to enter its select loop before stopping it.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Stop())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not unblock a sniffer parked in select")
	}
}

func TestSnifferSecondStopAfterFinishFails(t *testing.T) {
	sock := newEchoSocket(nil)
	defer sock.Close()
	sock.feed(&fakePacket{name: "only"})

	s, err := NewSniffer(SniffOptions{
		Sockets: map[socket.Socket]string{sock: "eth0"},
		Count:   1,
	})
	require.NoError(t, err)

	_, err = s.Sniff(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Stop()) // first call after completion still succeeds once
	require.ErrorIs(t, s.Stop(), ErrSniffUnsupportedStop)
}

func TestSnifferStopBeforeStartFails(t *testing.T) {
	sock := newEchoSocket(nil)
	defer sock.Close()

	s, err := NewSniffer(SniffOptions{
		Sockets: map[socket.Socket]string{sock: "eth0"},
	})
	require.NoError(t, err)

	require.ErrorIs(t, s.Stop(), ErrNotRunning)
}

// TestSnifferRawFilterExcludes wires filter.TCPPortFilter as a
// Sniffer.RawFilter over real decoded Ethernet/IPv4/TCP and
// Ethernet/IPv4/UDP frames (the same fixtures filter/l4_test.go uses),
// exercising the hot-path byte filter ahead of LFilter rather than
// only from within the filter package's own tests.
func TestSnifferRawFilterExcludes(t *testing.T) {
	sock := newEchoSocket(nil)
	defer sock.Close()

	tcpPkt := packet.NewGoPacket(filter.TcpPacket, layers.LinkTypeEthernet, gopacket.CaptureInfo{})
	udpPkt := packet.NewGoPacket(filter.UdpPacket, layers.LinkTypeEthernet, gopacket.CaptureInfo{})
	sock.feed(udpPkt, tcpPkt) // UDP first: must be rejected and not count, letting TCP arrive and hit Count

	s, err := NewSniffer(SniffOptions{
		Sockets:   map[socket.Socket]string{sock: "eth0"},
		Store:     true,
		Count:     1,
		RawFilter: filter.TCPPortFilter(0x50),
	})
	require.NoError(t, err)

	results, err := s.Sniff(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1, "the UDP frame must be rejected by the raw TCP-port filter before it ever reaches LFilter")
	_, ok := results[0].(*packet.GoPacket)
	require.True(t, ok)
}

func TestSnifferContextCancellation(t *testing.T) {
	sock := newEchoSocket(nil) // never produces data
	defer sock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewSniffer(SniffOptions{
		Sockets:            map[socket.Socket]string{sock: "eth0"},
		PropagateInterrupt: true,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Sniff(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Sniff did not observe context cancellation")
	}
}

func TestSnifferCloseAggregatesErrors(t *testing.T) {
	bad1 := newEchoSocket(nil)
	bad1.closeErr = errors.New("bad1: close failed")
	bad2 := newEchoSocket(nil)
	bad2.closeErr = errors.New("bad2: close failed")

	s, err := NewSniffer(SniffOptions{
		Sockets: map[socket.Socket]string{bad1: "a", bad2: "b"},
	})
	require.NoError(t, err)

	err = s.Close()
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad1")
	require.Contains(t, err.Error(), "bad2")
}

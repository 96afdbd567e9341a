package sndrcv

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yerden/gosndrcv/packet"
)

// TestBridgeForwardsAcrossInterfaces exercises spec.md §8 scenario E7: a
// packet arriving on If1 is forwarded unchanged to If2 when no Xfrm is
// configured.
func TestBridgeForwardsAcrossInterfaces(t *testing.T) {
	if1 := newEchoSocket(nil)
	defer if1.Close()
	if2 := newEchoSocket(nil)
	defer if2.Close()

	if1.feed(&fakePacket{name: "ping", fp: "h"})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := BridgeAndSniff(ctx, BridgeOptions{
		If1: if1, If2: if2, Label1: "if1", Label2: "if2",
		Prn: func(packet.Packet) { cancel() },
	})
	require.NoError(t, err)
	require.Len(t, if2.sent, 1)
	require.Equal(t, "ping", if2.sent[0].(*fakePacket).name)
	require.Empty(t, if1.sent, "a packet arriving on If1 must not be echoed back to If1")
}

// TestBridgeXfrmDropPreventsForward exercises Xfrm12 returning drop=true:
// the packet must never reach If2.
func TestBridgeXfrmDropPreventsForward(t *testing.T) {
	if1 := newEchoSocket(nil)
	defer if1.Close()
	if2 := newEchoSocket(nil)
	defer if2.Close()

	if1.feed(&fakePacket{name: "ping", fp: "h"})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := BridgeAndSniff(ctx, BridgeOptions{
		If1: if1, If2: if2, Label1: "if1", Label2: "if2",
		Xfrm12: func(packet.Packet) (packet.Packet, bool) { return nil, true },
		Prn:    func(packet.Packet) { cancel() },
	})
	require.NoError(t, err)
	require.Empty(t, if2.sent)
}

// TestBridgeXfrmSubstitutesPacket exercises Xfrm12 returning a
// replacement packet: If2 must receive the substitute, not the original.
func TestBridgeXfrmSubstitutesPacket(t *testing.T) {
	if1 := newEchoSocket(nil)
	defer if1.Close()
	if2 := newEchoSocket(nil)
	defer if2.Close()

	subst := &fakePacket{name: "subst", fp: "h2"}
	if1.feed(&fakePacket{name: "orig", fp: "h"})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := BridgeAndSniff(ctx, BridgeOptions{
		If1: if1, If2: if2, Label1: "if1", Label2: "if2",
		Xfrm12: func(packet.Packet) (packet.Packet, bool) { return subst, false },
		Prn:    func(packet.Packet) { cancel() },
	})
	require.NoError(t, err)
	require.Len(t, if2.sent, 1)
	require.Equal(t, "subst", if2.sent[0].(*fakePacket).name)
}

// TestBridgeReverseDirectionUsesXfrm21 confirms a packet arriving on If2
// is forwarded to If1 through Xfrm21, not Xfrm12.
func TestBridgeReverseDirectionUsesXfrm21(t *testing.T) {
	if1 := newEchoSocket(nil)
	defer if1.Close()
	if2 := newEchoSocket(nil)
	defer if2.Close()

	if2.feed(&fakePacket{name: "pong", fp: "h"})

	var xfrm12Called bool
	ctx, cancel := context.WithCancel(context.Background())
	_, err := BridgeAndSniff(ctx, BridgeOptions{
		If1: if1, If2: if2, Label1: "if1", Label2: "if2",
		Xfrm12: func(p packet.Packet) (packet.Packet, bool) { xfrm12Called = true; return p, false },
		Prn:    func(packet.Packet) { cancel() },
	})
	require.NoError(t, err)
	require.False(t, xfrm12Called, "a packet sniffed on If2 must take the Xfrm21 path, not Xfrm12")
	require.Len(t, if1.sent, 1)
	require.Equal(t, "pong", if1.sent[0].(*fakePacket).name)
}

// TestBridgeForwardErrorDoesNotStopSniffing exercises spec.md §7
// "Transform exception in bridge": a forwarding Send failure is logged
// and swallowed rather than aborting the bridge, so later packets still
// get a chance to sniff and forward.
func TestBridgeForwardErrorDoesNotStopSniffing(t *testing.T) {
	if1 := newEchoSocket(nil)
	defer if1.Close()
	if2 := newEchoSocket(nil)
	defer if2.Close()
	if2.sendErr = errors.New("boom: link down")

	if1.feed(&fakePacket{name: "p1", fp: "h"}, &fakePacket{name: "p2", fp: "h"})

	var seen int
	ctx, cancel := context.WithCancel(context.Background())
	_, err := BridgeAndSniff(ctx, BridgeOptions{
		If1: if1, If2: if2, Label1: "if1", Label2: "if2",
		Prn: func(packet.Packet) {
			seen++
			if seen >= 2 {
				cancel()
			}
		},
	})
	require.NoError(t, err, "a forwarding error must not surface as a bridge error")
	require.Equal(t, 2, seen, "both packets must still be sniffed despite If2.Send failing")
	require.Empty(t, if2.sent, "a failed Send is never recorded as sent")
}

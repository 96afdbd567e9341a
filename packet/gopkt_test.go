package packet

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
)

func buildUDP(t *testing.T, srcIP, dstIP string, srcPort, dstPort uint16) []byte {
	t.Helper()
	eth := &layers.Ethernet{EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("hi"))))
	return buf.Bytes()
}

func TestGoPacketHashretCommutative(t *testing.T) {
	reqData := buildUDP(t, "10.0.0.1", "10.0.0.2", 5000, 53)
	repData := buildUDP(t, "10.0.0.2", "10.0.0.1", 53, 5000)

	req := NewGoPacket(reqData, layers.LinkTypeEthernet, gopacket.CaptureInfo{Timestamp: time.Now()})
	rep := NewGoPacket(repData, layers.LinkTypeEthernet, gopacket.CaptureInfo{Timestamp: time.Now()})

	require.Equal(t, req.Hashret(), rep.Hashret())
}

func TestGoPacketAnswersChecksEndpoints(t *testing.T) {
	reqData := buildUDP(t, "10.0.0.1", "10.0.0.2", 5000, 53)
	repData := buildUDP(t, "10.0.0.2", "10.0.0.1", 53, 5000)
	unrelated := buildUDP(t, "192.168.1.1", "192.168.1.2", 9999, 80)

	req := NewGoPacket(reqData, layers.LinkTypeEthernet, gopacket.CaptureInfo{Timestamp: time.Now()})
	rep := NewGoPacket(repData, layers.LinkTypeEthernet, gopacket.CaptureInfo{Timestamp: time.Now()})
	other := NewGoPacket(unrelated, layers.LinkTypeEthernet, gopacket.CaptureInfo{Timestamp: time.Now()})

	require.True(t, rep.Answers(req))
	require.False(t, rep.Answers(other))
}

func TestGoPacketSentTime(t *testing.T) {
	p := NewGoPacket(buildUDP(t, "10.0.0.1", "10.0.0.2", 1, 2), layers.LinkTypeEthernet, gopacket.CaptureInfo{})
	require.True(t, p.SentTime().IsZero())
	now := time.Now()
	p.SetSentTime(now)
	require.Equal(t, now, p.SentTime())
}

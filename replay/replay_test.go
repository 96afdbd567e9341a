package replay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildArgvTopspeedDefault(t *testing.T) {
	argv := buildArgv("tcpreplay", Options{Iface: "eth0"}, "/tmp/x.pcap")
	require.Equal(t, []string{"tcpreplay", "--intf1=eth0", "--topspeed", "/tmp/x.pcap"}, argv)
}

func TestBuildArgvPPS(t *testing.T) {
	argv := buildArgv("tcpreplay", Options{Iface: "eth0", PPS: 1000}, "/tmp/x.pcap")
	require.Contains(t, argv, "--pps=1000.000000")
}

func TestBuildArgvCountSetsLoop(t *testing.T) {
	argv := buildArgv("tcpreplay", Options{Iface: "eth0", Count: 5}, "/tmp/x.pcap")
	require.Contains(t, argv, "--loop=5")
}

func TestBuildArgvFileCache(t *testing.T) {
	argv := buildArgv("tcpreplay", Options{Iface: "eth0", FileCache: true}, "/tmp/x.pcap")
	require.Contains(t, argv, "--preload-pcap")
}

func TestBuildArgvExtraReplayArgs(t *testing.T) {
	argv := buildArgv("tcpreplay", Options{Iface: "eth0", ReplayArgs: []string{"--unique-ip"}}, "/tmp/x.pcap")
	require.Contains(t, argv, "--unique-ip")
	require.Equal(t, "/tmp/x.pcap", argv[len(argv)-1])
}

func TestParseTcpreplayOutput(t *testing.T) {
	stdout := `
Actual: 100 packets (15000 bytes) sent in 1.23 seconds
Rated: 12195.1 bps, 0.01 mbps, 81.3 pps
Flows: 3 flows, 2.4 fps, 33 flow packets, 67 non-flow
Attempted packets:         100
Successful packets:        100
Failed packets:             0
Truncated packets:          0
Retried packets (ENOBUFS): 0
Retried packets (EAGAIN):  0
`
	r := parseTcpreplayOutput(stdout, "", []string{"tcpreplay", "--intf1=eth0", "x.pcap"})

	require.Equal(t, float64(100), r.ActualPackets)
	require.Equal(t, float64(15000), r.ActualBytes)
	require.Equal(t, 1.23, r.ActualTime)
	require.Equal(t, 81.3, r.RatedPPS)
	require.Equal(t, float64(3), r.FlowsFlows)
	require.Equal(t, float64(100), r.Attempted)
	require.Equal(t, float64(100), r.Successful)
	require.Equal(t, "tcpreplay --intf1=eth0 x.pcap", r.Command)
}

func TestParseTcpreplayOutputDropsLastStderrLine(t *testing.T) {
	r := parseTcpreplayOutput("", "warning: clock skew detected\n", []string{"tcpreplay"})
	require.Empty(t, r.Warnings) // last line dropped, matching scapy's stderr[:-1]
}

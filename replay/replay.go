// Package replay wraps the external tcpreplay(1) tool for high-rate
// layer-2 transmission, the Go expression of scapy's
// sendpfast/_parse_tcpreplay_result (spec.md §6, SPEC_FULL.md §4.11).
// Shelling out to an arbitrary external CLI and scraping its stdout is
// not a concern any pack library wraps, so this package stays on
// os/exec by necessity — see DESIGN.md.
package replay

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/yerden/gosndrcv/packet"
)

// Options configures one SendFast invocation, mirroring scapy's
// sendpfast keyword arguments.
type Options struct {
	Iface string

	// Exactly one of PPS, Mbps, Realtime multiplier should be set;
	// none of them selects tcpreplay's --topspeed.
	PPS      float64
	Mbps     float64
	Realtime float64

	// Count and Loop are mutually exclusive, matching scapy's assert
	// "can't use loop and count at the same time".
	Count int
	Loop  int

	FileCache bool

	// ReplayArgs appends additional raw tcpreplay arguments verbatim.
	ReplayArgs []string

	// ToolPath overrides the tcpreplay binary looked up on PATH.
	ToolPath string

	LinkType layers.LinkType
}

// Result is the parsed tcpreplay report — spec.md §6's field set for
// sendpfast(parse_results=True).
type Result struct {
	ActualPackets float64
	ActualBytes   float64
	ActualTime    float64

	RatedBps  float64
	RatedMbps float64
	RatedPPS  float64

	FlowsFlows       float64
	FlowsFPS         float64
	FlowsFlowPackets float64
	FlowsNonFlow     float64

	Attempted      float64
	Successful     float64
	Failed         float64
	Truncated      float64
	RetriedENOBUFS float64
	RetriedEAGAIN  float64

	Command  string
	Warnings []string
}

// SendFast writes pkts to a temporary pcap file and replays it via
// tcpreplay, returning the parsed result. The temp file is removed on
// every exit path, success or failure, matching scapy's `finally:
// os.unlink(f)`.
func SendFast(ctx context.Context, pkts []packet.Packet, opts Options) (*Result, error) {
	if opts.Count != 0 && opts.Loop != 0 {
		return nil, fmt.Errorf("replay: count and loop are mutually exclusive")
	}

	f, err := os.CreateTemp("", "gosndrcv-replay-*.pcap")
	if err != nil {
		return nil, fmt.Errorf("replay: temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if err := writePcap(f, pkts, opts.LinkType); err != nil {
		f.Close()
		return nil, fmt.Errorf("replay: write pcap: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("replay: close pcap: %w", err)
	}

	tool := opts.ToolPath
	if tool == "" {
		tool = "tcpreplay"
	}

	argv := buildArgv(tool, opts, path)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := parseTcpreplayOutput(stdout.String(), stderr.String(), argv)
	if runErr != nil {
		return result, fmt.Errorf("replay: tcpreplay: %w (stderr: %s)", runErr, stderr.String())
	}
	return result, nil
}

func buildArgv(tool string, opts Options, pcapPath string) []string {
	argv := []string{tool, "--intf1=" + opts.Iface}

	switch {
	case opts.PPS != 0:
		argv = append(argv, fmt.Sprintf("--pps=%f", opts.PPS))
	case opts.Mbps != 0:
		argv = append(argv, fmt.Sprintf("--mbps=%f", opts.Mbps))
	case opts.Realtime != 0:
		argv = append(argv, fmt.Sprintf("--multiplier=%f", opts.Realtime))
	default:
		argv = append(argv, "--topspeed")
	}

	if opts.Count != 0 {
		argv = append(argv, fmt.Sprintf("--loop=%d", opts.Count))
	} else if opts.Loop != 0 {
		argv = append(argv, "--loop=0")
	}
	if opts.FileCache {
		argv = append(argv, "--preload-pcap")
	}

	argv = append(argv, opts.ReplayArgs...)
	argv = append(argv, pcapPath)
	return argv
}

func writePcap(f *os.File, pkts []packet.Packet, linkType layers.LinkType) error {
	if linkType == 0 {
		linkType = layers.LinkTypeEthernet
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, linkType); err != nil {
		return err
	}
	for _, p := range pkts {
		gp, ok := p.(interface{ Data() []byte })
		var data []byte
		if ok {
			data = gp.Data()
		} else if gpk, ok := p.(gopacket.Packet); ok {
			data = gpk.Data()
		} else {
			return fmt.Errorf("replay: packet %T does not expose raw bytes", p)
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     p.SentTime(),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			return err
		}
	}
	return nil
}

var (
	elementOrder = []string{
		"actual", "rated", "flows", "attempted", "successful",
		"failed", "truncated", "retried packets (eno", "retried packets (eag",
	}
	elementFields = map[string][]string{
		"actual":                {"packets", "bytes", "time"},
		"rated":                 {"bps", "mbps", "pps"},
		"flows":                 {"flows", "fps", "flow_packets", "non_flow"},
		"attempted":             {"attempted"},
		"successful":            {"successful"},
		"failed":                {"failed"},
		"truncated":             {"truncated"},
		"retried packets (eno": {"retried_enobufs"},
		"retried packets (eag": {"retried_eagain"},
	}
	floatRe = regexp.MustCompile(`[0-9]*\.[0-9]+|[0-9]+`)
)

// parseTcpreplayOutput mirrors scapy's _parse_tcpreplay_result: scan
// stdout line by line, and for each line whose prefix matches one of
// the known report sections, pull out as many numbers as that section
// has fields, in order.
func parseTcpreplayOutput(stdout, stderr string, argv []string) *Result {
	r := &Result{Command: strings.Join(argv, " ")}
	fields := map[string]float64{}

	for _, line := range strings.Split(strings.ToLower(stdout), "\n") {
		line = strings.TrimSpace(line)
		for _, elt := range elementOrder {
			if !strings.HasPrefix(line, elt) {
				continue
			}
			names := elementFields[elt]
			matches := floatRe.FindAllString(line, len(names))
			for i, m := range matches {
				if i >= len(names) {
					break
				}
				v, err := strconv.ParseFloat(m, 64)
				if err != nil {
					continue
				}
				fields[names[i]] = v
			}
		}
	}

	r.ActualPackets = fields["packets"]
	r.ActualBytes = fields["bytes"]
	r.ActualTime = fields["time"]
	r.RatedBps = fields["bps"]
	r.RatedMbps = fields["mbps"]
	r.RatedPPS = fields["pps"]
	r.FlowsFlows = fields["flows"]
	r.FlowsFPS = fields["fps"]
	r.FlowsFlowPackets = fields["flow_packets"]
	r.FlowsNonFlow = fields["non_flow"]
	r.Attempted = fields["attempted"]
	r.Successful = fields["successful"]
	r.Failed = fields["failed"]
	r.Truncated = fields["truncated"]
	r.RetriedENOBUFS = fields["retried_enobufs"]
	r.RetriedEAGAIN = fields["retried_eagain"]

	if stderr != "" {
		lines := strings.Split(strings.TrimSpace(stderr), "\n")
		if len(lines) > 0 {
			r.Warnings = lines[:len(lines)-1]
		}
	}
	return r
}

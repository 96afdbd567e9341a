package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yerden/gosndrcv/packet"
	"github.com/yerden/gosndrcv/sndrcv"
	"github.com/yerden/gosndrcv/socket"
)

// openLiveOrOffline opens a read socket: a pcap file if readFile is
// set, otherwise a live raw IP socket on iface/network — the CLI's
// stand-in for scapy's automatic socket-class selection (spec.md
// §4.1 "Socket selection"). A "ip6:" network dials socket.DialRaw6
// instead of the IPv4-only socket.DialRaw.
func openLiveOrOffline(iface, network, readFile string) (socket.Socket, error) {
	if readFile != "" {
		return socket.OpenPcapRead(iface, readFile)
	}
	if strings.HasPrefix(network, "ip6:") {
		return socket.DialRaw6(iface, network)
	}
	return socket.DialRaw(iface, network)
}

// loadStimuli drains a read-only socket.Socket (typically a
// *socket.PcapSocket) into a sndrcv.SliceSource, materializing every
// packet up front so repeated passes (send --loop/--count, srloop
// iterations, flood cycles) can rewind it.
func loadStimuli(sock socket.Socket) (*sndrcv.SliceSource, error) {
	var pkts []packet.Packet
	for {
		p, err := sock.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("sndrcv: read stimuli: %w", err)
		}
		pkts = append(pkts, p)
	}
	return sndrcv.NewSliceSource(pkts), nil
}

// startMetrics registers a fresh counter set under subsystem and
// serves it at addr's "/metrics" path via promhttp, the Go analogue of
// scapy's lack of any such thing — an ambient observability add-on
// (SPEC_FULL.md §2 "Metrics"). addr == "" disables it and returns a
// nil Metrics and a no-op stop function.
func startMetrics(addr, subsystem string) (*sndrcv.Metrics, func(), error) {
	if addr == "" {
		return nil, func() {}, nil
	}

	reg := prometheus.NewRegistry()
	m, err := sndrcv.NewMetrics(reg, subsystem)
	if err != nil {
		return nil, nil, fmt.Errorf("sndrcv: register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("sndrcv: metrics server stopped")
		}
	}()

	return m, func() { srv.Close() }, nil
}

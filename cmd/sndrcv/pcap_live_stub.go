//go:build !pcap_live

package main

import (
	"fmt"

	"github.com/yerden/gosndrcv/socket"
)

// openLivePcap is the default, libpcap-free stub: building with
// -tags pcap_live swaps this out for the real gopacket/pcap-backed
// implementation in pcap_live.go.
func openLivePcap(iface string, promisc bool) (socket.Socket, error) {
	return nil, fmt.Errorf("sndrcv: --pcap-live requires a binary built with -tags pcap_live")
}

//go:build pcap_live

package main

import (
	"github.com/yerden/gosndrcv/socket"
)

// openLivePcap opens a libpcap-backed live capture socket; only
// available when the binary is built with -tags pcap_live (requires
// cgo and libpcap).
func openLivePcap(iface string, promisc bool) (socket.Socket, error) {
	return socket.OpenLivePcap(iface, 65536, promisc)
}

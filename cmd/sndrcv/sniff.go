package main

import (
	"context"
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/spf13/cobra"

	"github.com/yerden/gosndrcv/filter"
	"github.com/yerden/gosndrcv/packet"
	"github.com/yerden/gosndrcv/session"
	"github.com/yerden/gosndrcv/sndrcv"
	"github.com/yerden/gosndrcv/socket"
)

func newSniffCmd() *cobra.Command {
	var (
		iface       string
		network     string
		readFile    string
		writeFile   string
		count       int
		timeout     float64
		tcpPort     int
		udpPort     int
		bpfExpr     string
		sessionKind string
		pcapLive    bool
		promisc     bool
	)

	cmd := &cobra.Command{
		Use:   "sniff",
		Short: "Capture packets and print a one-line summary per packet",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sock socket.Socket
			var err error
			switch {
			case pcapLive:
				sock, err = openLivePcap(iface, promisc)
			default:
				sock, err = openLiveOrOffline(iface, network, readFile)
			}
			if err != nil {
				return err
			}
			defer sock.Close()

			var writer socket.Socket
			if writeFile != "" {
				writer, err = socket.CreatePcapWrite(iface, writeFile, layers.LinkTypeEthernet)
				if err != nil {
					return err
				}
				defer writer.Close()
			}

			var rawFilters []filter.Filter
			if tcpPort != 0 {
				rawFilters = append(rawFilters, filter.TCPPortFilter(uint16(tcpPort)))
			}
			if udpPort != 0 {
				rawFilters = append(rawFilters, filter.UDPPortFilter(uint16(udpPort)))
			}
			if bpfExpr != "" {
				bpf, err := filter.CompileBPF("tcpdump", bpfExpr, 65535)
				if err != nil {
					return fmt.Errorf("sndrcv: compile bpf filter: %w", err)
				}
				rawFilters = append(rawFilters, bpf)
			}
			var rawFilter filter.Filter
			if len(rawFilters) > 0 {
				rawFilter = filter.Or(rawFilters...)
			}

			var sess session.Decoder
			if sessionKind == "tcp" {
				sess = session.NewTCPReassembly()
			}

			opts := sndrcv.SniffOptions{
				Sockets:   map[socket.Socket]string{sock: iface},
				Session:   sess,
				Count:     count,
				Store:     true,
				Timeout:   durationFromSeconds(timeout),
				Logger:    logger,
				RawFilter: rawFilter,
				Prn: func(p packet.Packet) {
					logger.Debug().Str("summary", p.Summary()).Msg("sndrcv: packet accepted")
					fmt.Println(p.Summary())
					if writer != nil {
						if err := writer.Send(p); err != nil {
							logger.Warn().Err(err).Msg("sndrcv: write pcap failed")
						}
					}
				},
			}

			results, err := sndrcv.Sniff(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Printf("%d packets captured\n", len(results))
			return nil
		},
	}

	cmd.Flags().StringVarP(&iface, "iface", "i", "", "interface label for live capture")
	cmd.Flags().StringVar(&network, "network", "ip4:1", "raw IP network for live capture (see net.ListenPacket)")
	cmd.Flags().StringVarP(&readFile, "read", "r", "", "read packets from a pcap/pcapng file instead of live capture")
	cmd.Flags().StringVarP(&writeFile, "write", "w", "", "write accepted packets to a pcap file")
	cmd.Flags().IntVarP(&count, "count", "c", 0, "stop after this many accepted packets (0 = unlimited)")
	cmd.Flags().Float64VarP(&timeout, "timeout", "t", 0, "stop after this many seconds (0 = unlimited)")
	cmd.Flags().IntVar(&tcpPort, "tcp-port", 0, "raw-byte pre-filter: accept only TCP frames with this src/dst port (0 = off)")
	cmd.Flags().IntVar(&udpPort, "udp-port", 0, "raw-byte pre-filter: accept only UDP frames with this src/dst port (0 = off)")
	cmd.Flags().StringVar(&bpfExpr, "bpf", "", "raw-byte pre-filter: a tcpdump-syntax BPF expression, compiled via the tcpdump binary")
	cmd.Flags().StringVar(&sessionKind, "session", "", "session decoder: \"tcp\" reassembles TCP streams instead of yielding raw frames (default: raw)")
	cmd.Flags().BoolVar(&pcapLive, "pcap-live", false, "capture via libpcap instead of a raw IP socket (requires a binary built with -tags pcap_live)")
	cmd.Flags().BoolVar(&promisc, "promisc", false, "enable promiscuous mode for --pcap-live")
	return cmd
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yerden/gosndrcv/sndrcv"
)

// newSendCmd builds the "send" or "sendp" subcommand. They share the
// same engine (sndrcv.Send); L2 vs. L3 framing is a property of the
// chosen socket, not of the command (spec.md §6).
func newSendCmd(name string) *cobra.Command {
	var (
		iface    string
		network  string
		readFile string
		interPkt float64
		loop     int
		count    int
		realtime bool
	)

	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Transmit packets from a pcap file (%s engine)", name),
		RunE: func(cmd *cobra.Command, args []string) error {
			if readFile == "" {
				return fmt.Errorf("sndrcv: %s requires --read", name)
			}
			readSock, err := openLiveOrOffline(iface, network, readFile)
			if err != nil {
				return err
			}
			defer readSock.Close()

			src, err := loadStimuli(readSock)
			if err != nil {
				return err
			}

			txSock, err := openLiveOrOffline(iface, network, "")
			if err != nil {
				return err
			}
			defer txSock.Close()

			opts := sndrcv.SendOptions{
				Inter:         durationFromSeconds(interPkt),
				Loop:          loop,
				Count:         count,
				Realtime:      realtime,
				ReturnPackets: false,
			}

			result, err := sndrcv.Send(context.Background(), txSock, src, opts)
			if err != nil {
				return err
			}
			fmt.Printf("%d packets sent\n", result.Total)
			return nil
		},
	}

	cmd.Flags().StringVarP(&iface, "iface", "i", "", "transmit interface label")
	cmd.Flags().StringVar(&network, "network", "ip4:1", "raw IP network for transmission")
	cmd.Flags().StringVarP(&readFile, "read", "r", "", "pcap file of stimuli to send (required)")
	cmd.Flags().Float64Var(&interPkt, "inter", 0, "delay between packets, in seconds")
	cmd.Flags().IntVar(&loop, "loop", 0, "negative N: repeat the whole pass -N times; positive: repeat until interrupted; 0: once")
	cmd.Flags().IntVarP(&count, "count", "c", 0, "repeat the whole pass this many times, overrides --loop")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "honor each packet's recorded timestamp spacing")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/yerden/gosndrcv/sndrcv"
)

// newFloodCmd builds the "flood" subcommand: sustained retransmission
// of a stimulus set via sndrcv.SrFlood, the CLI surface for scapy's
// srflood/sr1flood (spec.md §6, §4.6, §8 scenario E6).
func newFloodCmd() *cobra.Command {
	var (
		iface     string
		network   string
		readFile  string
		timeout   float64
		maxCycles int
		ratePps   float64
		multi     bool
	)

	cmd := &cobra.Command{
		Use:   "flood",
		Short: "Retransmit stimuli repeatedly until Ctrl-C or --max-cycles is reached",
		RunE: func(cmd *cobra.Command, args []string) error {
			if readFile == "" {
				return fmt.Errorf("sndrcv: flood requires --read")
			}
			readSock, err := openLiveOrOffline(iface, network, readFile)
			if err != nil {
				return err
			}
			src, err := loadStimuli(readSock)
			readSock.Close()
			if err != nil {
				return err
			}

			tx, err := openLiveOrOffline(iface, network, "")
			if err != nil {
				return err
			}
			defer tx.Close()

			var limiter *rate.Limiter
			if ratePps > 0 {
				limiter = rate.NewLimiter(rate.Limit(ratePps), 1)
			}
			flood := sndrcv.NewFloodGenerator(src, maxCycles, limiter)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			opts := sndrcv.Options{
				Timeout: durationFromSeconds(timeout),
				Multi:   multi,
				Logger:  logger,
			}

			answered, unanswered, err := sndrcv.SrFlood(ctx, tx, tx, flood, opts)
			if err != nil {
				return err
			}
			fmt.Printf("flood done: %d stimuli per cycle, %d answers, %d unanswered\n",
				flood.IterLen(), len(answered), len(unanswered))
			return nil
		},
	}

	cmd.Flags().StringVarP(&iface, "iface", "i", "", "transmit/receive interface label")
	cmd.Flags().StringVar(&network, "network", "ip4:1", "raw IP network for transmission")
	cmd.Flags().StringVarP(&readFile, "read", "r", "", "pcap file of stimuli to flood (required)")
	cmd.Flags().Float64VarP(&timeout, "timeout", "t", 1, "reply window, in seconds")
	cmd.Flags().IntVar(&maxCycles, "max-cycles", 0, "stop after this many cycles through the stimuli (0 = unlimited, stop with ctrl-c)")
	cmd.Flags().Float64Var(&ratePps, "rate", 0, "pace transmission to this many packets/sec (0 = as fast as possible)")
	cmd.Flags().BoolVar(&multi, "multi", false, "allow more than one reply per stimulus")
	return cmd
}

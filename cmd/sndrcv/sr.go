package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yerden/gosndrcv/packet"
	"github.com/yerden/gosndrcv/sndrcv"
)

// newSrCmd builds the "sr"/"srp" subcommand: send every stimulus in
// --read, print each matched pair and the leftover unanswered count
// (spec.md §6).
func newSrCmd(name string) *cobra.Command {
	var (
		iface       string
		network     string
		readFile    string
		interPkt    float64
		timeout     float64
		retry       int
		multi       bool
		threaded    bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Send stimuli and match replies (%s engine)", name),
		RunE: func(cmd *cobra.Command, args []string) error {
			if readFile == "" {
				return fmt.Errorf("sndrcv: %s requires --read", name)
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

			metrics, stopMetrics, err := startMetrics(metricsAddr, name)
			if err != nil {
				return err
			}
			defer stopMetrics()

			opts := sndrcv.Options{
				Inter:    durationFromSeconds(interPkt),
				Timeout:  durationFromSeconds(timeout),
				Retry:    retry,
				Multi:    multi,
				Threaded: threaded,
				Logger:   logger,
				Metrics:  metrics,
			}

			answered, unanswered, err := sndrcv.Sr(context.Background(), tx, tx, src, opts)
			if err != nil {
				return err
			}
			for _, qa := range answered {
				logger.Debug().Str("query", qa.Query.Summary()).Str("answer", qa.Answer.Summary()).
					Msg("sndrcv: matched")
				fmt.Printf("%s ==> %s\n", qa.Query.Summary(), qa.Answer.Summary())
			}
			fmt.Printf("Received %d packets, got %d answers, remaining %d packets\n",
				len(answered)+len(unanswered), len(answered), len(unanswered))
			return nil
		},
	}

	addSrFlags(cmd, &iface, &network, &readFile, &interPkt, &timeout, &retry, &multi, &threaded)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus counters at http://addr/metrics (empty disables)")
	return cmd
}

func newSrLoopCmd() *cobra.Command {
	var (
		iface       string
		network     string
		readFile    string
		interPkt    float64
		timeout     float64
		retry       int
		multi       bool
		threaded    bool
		loopN       int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "srloop",
		Short: "Repeat sr at a fixed cadence, printing a summary line per iteration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if readFile == "" {
				return fmt.Errorf("sndrcv: srloop requires --read")
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

			metrics, stopMetrics, err := startMetrics(metricsAddr, "srloop")
			if err != nil {
				return err
			}
			defer stopMetrics()

			opts := sndrcv.Options{
				Inter:    durationFromSeconds(interPkt),
				Timeout:  durationFromSeconds(timeout),
				Retry:    retry,
				Multi:    multi,
				Threaded: threaded,
				Logger:   logger,
				Metrics:  metrics,
			}
			loopOpts := sndrcv.LoopOptions{
				Inter:  durationFromSeconds(interPkt),
				Count:  loopN,
				Logger: logger,
				OnIteration: func(i int, answered []packet.QueryAnswer, unanswered []packet.Packet, err error) {
					fmt.Printf("iteration %d: %d answered, %d unanswered\n", i, len(answered), len(unanswered))
				},
			}

			sndrcv.SrLoop(context.Background(), tx, tx, src, opts, loopOpts)
			return nil
		},
	}

	addSrFlags(cmd, &iface, &network, &readFile, &interPkt, &timeout, &retry, &multi, &threaded)
	cmd.Flags().IntVar(&loopN, "iterations", 0, "number of iterations (0 = unlimited, stop with ctrl-c)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus counters at http://addr/metrics (empty disables)")
	return cmd
}

func addSrFlags(cmd *cobra.Command, iface, network, readFile *string, interPkt, timeout *float64, retry *int, multi, threaded *bool) {
	cmd.Flags().StringVarP(iface, "iface", "i", "", "transmit/receive interface label")
	cmd.Flags().StringVar(network, "network", "ip4:1", "raw IP network for transmission")
	cmd.Flags().StringVarP(readFile, "read", "r", "", "pcap file of stimuli to send (required)")
	cmd.Flags().Float64Var(interPkt, "inter", 0, "delay between packets, in seconds")
	cmd.Flags().Float64VarP(timeout, "timeout", "t", 0, "per-pass reply timeout, in seconds")
	cmd.Flags().IntVar(retry, "retry", 0, "retry passes (negative: autostop budget)")
	cmd.Flags().BoolVar(multi, "multi", false, "allow more than one reply per stimulus")
	cmd.Flags().BoolVar(threaded, "threaded", false, "force the concurrent sender/sniffer path")
}

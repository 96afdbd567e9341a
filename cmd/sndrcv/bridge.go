package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yerden/gosndrcv/sndrcv"
)

func newBridgeCmd() *cobra.Command {
	var (
		iface1, iface2     string
		network1, network2 string
	)

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Forward packets between two interfaces while sniffing both",
		RunE: func(cmd *cobra.Command, args []string) error {
			if1, err := openLiveOrOffline(iface1, network1, "")
			if err != nil {
				return fmt.Errorf("sndrcv: bridge iface1: %w", err)
			}
			defer if1.Close()

			if2, err := openLiveOrOffline(iface2, network2, "")
			if err != nil {
				return fmt.Errorf("sndrcv: bridge iface2: %w", err)
			}
			defer if2.Close()

			opts := sndrcv.BridgeOptions{
				If1: if1, If2: if2,
				Label1: iface1, Label2: iface2,
				Logger: logger,
			}

			results, err := sndrcv.BridgeAndSniff(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Printf("%d packets bridged\n", len(results))
			return nil
		},
	}

	cmd.Flags().StringVar(&iface1, "if1", "", "first interface label")
	cmd.Flags().StringVar(&iface2, "if2", "", "second interface label")
	cmd.Flags().StringVar(&network1, "network1", "ip4:1", "raw IP network for if1")
	cmd.Flags().StringVar(&network2, "network2", "ip4:1", "raw IP network for if2")
	return cmd
}

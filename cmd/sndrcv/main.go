// Command sndrcv is a thin CLI around package sndrcv, generalizing
// the teacher's flag-based examples/sniffer/main.go into a cobra
// multi-command tool: sniff, send/sendp, sr/srp/srloop, flood, bridge.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	logger   zerolog.Logger
)

func main() {
	root := &cobra.Command{
		Use:   "sndrcv",
		Short: "Send/receive packet coordination engine CLI",
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cobra.OnInitialize(initLogger)

	root.AddCommand(
		newSniffCmd(),
		newSendCmd("send"),
		newSendCmd("sendp"),
		newSrCmd("sr"),
		newSrCmd("srp"),
		newSrLoopCmd(),
		newFloodCmd(),
		newBridgeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogger() {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

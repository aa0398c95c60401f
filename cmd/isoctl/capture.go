package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aeolun/fraudengine/pkg/inspect"
)

var capturePort int

var pcapCmd = &cobra.Command{
	Use:   "pcap <file>",
	Short: "Decode the ISO 8583 frames of a pcap or pcapng capture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		frames, err := inspect.ReadCaptureFile(args[0], capturePort)
		if err != nil {
			return fmt.Errorf("failed to read capture: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(inspect.SummarizeCapture(codec, frames)))
		return nil
	},
}

func init() {
	pcapCmd.Flags().IntVarP(&capturePort, "port", "p", 8037, "TCP port of the engine (0 = all TCP traffic)")
	rootCmd.AddCommand(pcapCmd)
}

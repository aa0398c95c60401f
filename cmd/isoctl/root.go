package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aeolun/fraudengine/pkg/inspect"
	"github.com/aeolun/fraudengine/pkg/protocol"
)

var (
	// Global flags
	outputFormat string

	// Shared state set during PersistentPreRun
	registry  = protocol.DefaultRegistry()
	codec     = protocol.NewCodec(registry)
	formatter inspect.Formatter
)

// rootCmd is the base command for isoctl.
var rootCmd = &cobra.Command{
	Use:   "isoctl",
	Short: "ISO 8583 toolbox for the fraud engine",
	Long: `isoctl builds, decodes and sends ISO 8583:1987 ASCII messages
(2-byte length framing), extracts frames from packet captures and lists
transactions the engine flagged.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		formatter = inspect.NewFormatter(outputFormat)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")
}

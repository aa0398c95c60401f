package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aeolun/fraudengine/pkg/client"
	"github.com/aeolun/fraudengine/pkg/inspect"
	"github.com/aeolun/fraudengine/pkg/protocol"
)

var (
	serverAddr  string
	sendCount   int
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send messages to a running engine and show the responses",
	Example: `  isoctl send --template echo
  isoctl send --amount 5 --count 6          # trips the velocity rule
  isoctl send --amount 2000 -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sendCount < 1 {
			return fmt.Errorf("--count must be at least 1")
		}

		conn := client.NewConnection(serverAddr, codec)
		if err := conn.Connect(); err != nil {
			return err
		}
		defer conn.Close()

		var stans client.STANCounter
		fixedSTAN := cmd.Flags().Changed("stan")

		results := make([]inspect.MessageSummary, 0, sendCount)
		for i := 0; i < sendCount; i++ {
			if !fixedSTAN {
				stan = stans.Next()
			}
			req, err := buildMessage(time.Now())
			if err != nil {
				return err
			}

			start := time.Now()
			resp, err := conn.Exchange(req, sendTimeout)
			if err != nil {
				return fmt.Errorf("message %d (stan %s): %w", i+1, req.Value(protocol.FieldSTAN), err)
			}
			summary := inspect.SummarizeMessage(resp)
			summary.Time = start
			summary.Src = conn.Addr()
			results = append(results, summary)

			if note, ok := resp.Get(protocol.FieldAdditionalResponse); ok && resp.Value(protocol.FieldResponseCode) != protocol.ResponseApproved {
				fmt.Fprintf(cmd.ErrOrStderr(), "stan %s declined: %s (%v)\n", summary.STAN, note, time.Since(start).Round(time.Microsecond))
			}
		}

		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(results))
		return nil
	},
}

func init() {
	addMessageFlags(sendCmd)
	sendCmd.Flags().StringVar(&serverAddr, "server", "localhost:8037", "engine address (host:port)")
	sendCmd.Flags().IntVarP(&sendCount, "count", "n", 1, "number of messages to send on the connection")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "response timeout")
	rootCmd.AddCommand(sendCmd)
}

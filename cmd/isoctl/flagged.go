package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aeolun/fraudengine/pkg/database"
	"github.com/aeolun/fraudengine/pkg/fraud"
	"github.com/aeolun/fraudengine/pkg/inspect"
	"github.com/aeolun/fraudengine/pkg/server"
)

var (
	cfgFile      string
	flaggedLimit int
	showPAN      bool
)

// openDatabase opens the database named by the server config file
func openDatabase() (*database.DB, error) {
	cfg, err := server.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	dsn, err := cfg.GetDatabaseDSN()
	if err != nil {
		return nil, err
	}
	return database.Open(cfg.Database.Driver, dsn)
}

func maskTransactions(txs []*database.Transaction) {
	if showPAN {
		return
	}
	for _, tx := range txs {
		tx.PAN = fraud.MaskPAN(tx.PAN)
	}
}

var flaggedCmd = &cobra.Command{
	Use:   "flagged",
	Short: "List the most recent flagged transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		txs, err := db.ListFlagged(context.Background(), flaggedLimit)
		if err != nil {
			return fmt.Errorf("failed to list flagged transactions: %w", err)
		}
		maskTransactions(txs)
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(txs))
		return nil
	},
}

var transactionCmd = &cobra.Command{
	Use:   "transaction <id>",
	Short: "Show a stored transaction (with --show-pan, also its raw request)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}

		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		tx, err := db.GetTransaction(context.Background(), id)
		if err != nil {
			return err
		}
		maskTransactions([]*database.Transaction{tx})

		out := cmd.OutOrStdout()
		fmt.Fprint(out, formatter.Format(tx))

		// The raw request carries the full card number and track 2
		if !showPAN || len(tx.Raw) == 0 {
			return nil
		}
		m, err := codec.Unpack(tx.Raw)
		if err != nil {
			return fmt.Errorf("stored request does not decode: %w", err)
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, formatter.Format(inspect.FieldRows(registry, m)))
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{flaggedCmd, transactionCmd} {
		cmd.Flags().StringVar(&cfgFile, "config", server.DefaultConfigPath, "server config file naming the database")
		cmd.Flags().BoolVar(&showPAN, "show-pan", false, "print full card numbers")
		rootCmd.AddCommand(cmd)
	}
	flaggedCmd.Flags().IntVarP(&flaggedLimit, "limit", "l", 50, "maximum number of transactions")
}

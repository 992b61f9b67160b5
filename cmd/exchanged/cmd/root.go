// Package cmd wires the exchanged command tree.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd creates the root command for exchanged.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "exchanged",
		Short: "Simulated spot exchange daemon",
		Long: `exchanged runs a simulated cryptocurrency spot exchange: price-time
matching, custody accounting with freeze/settle semantics, live order
book and price feeds, and a market simulator for pairs without real
flow.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Best effort; variables may come from the real environment.
			_ = godotenv.Load()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./configs/config.yaml)")
	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

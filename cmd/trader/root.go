package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "signal-trader",
	Short: "Mirror trade signals from a feed onto Hyperliquid and Bybit",
	Long: `signal-trader polls a trade signal feed, classifies every new or edited
signal against its ledger and places, amends or closes the matching orders
on the venues each trader is routed to.

Credentials are read from the environment (a .env file is loaded if present):
  HYPERLIQUID_PRIVATE_KEY_<n>, HYPERLIQUID_ACCOUNT_ADDRESS_<n>, HYPERLIQUID_SUBACCOUNT_<n>
  BYBIT_API_KEY_<n>, BYBIT_API_SECRET_<n>`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadDotenv()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", "./configs", "directory containing config.yml")
}

func loadDotenv() error {
	if err := godotenv.Load(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"signal-trade-bot-go/internal/config"
	"signal-trade-bot-go/internal/ledger"
)

var ledgerJSON bool

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show the trades tracked in the ledger",
	Args:  cobra.NoArgs,
	RunE:  runLedger,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.Flags().BoolVar(&ledgerJSON, "json", false, "print the raw ledger document")
}

func runLedger(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}
	doc, err := ledger.Load(cfg.Ledger.Path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if ledgerJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	urls := make([]string, 0, len(doc.ActiveTrades))
	for u := range doc.ActiveTrades {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRADER\tSYMBOL\tSIDE\tENTRIES\tSTOP\tTP\tSTATUS\tURL")
	for _, u := range urls {
		r := doc.ActiveTrades[u]
		status := "open"
		if r.Closed {
			status = "closed"
		}
		stop := "-"
		if r.StopLoss != nil {
			stop = fmt.Sprint(*r.StopLoss)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%v\t%s\t%s\n", r.Trader, r.Symbol, r.Side, r.Entries, stop, r.TakeProfits, status, u)
	}
	fmt.Fprintf(w, "\n%d trades, updates anchor %q\n", len(urls), doc.LastTradeUpdatesMessageID)
	return w.Flush()
}

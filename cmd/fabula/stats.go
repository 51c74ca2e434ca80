package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabula-ai/fabula/pkg/config"
	"github.com/fabula-ai/fabula/pkg/ledger"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		caller     string
		days       int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show operation and spend statistics from the cost ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			l, err := ledger.New(cfg.DBPath, cfg.Ledger.MaxEntriesPerCaller)
			if err != nil {
				return err
			}
			defer l.Close()

			ctx := context.Background()
			since := time.Now().UTC().AddDate(0, 0, -days)

			totals, err := l.Totals(ctx, caller, since)
			if err != nil {
				return err
			}
			if totals.Operations == 0 {
				fmt.Println("No recorded operations in range.")
				return nil
			}

			fmt.Printf("Operations: %d (%d failed)  Cost: $%.4f  Potential savings: $%.4f\n",
				totals.Operations, totals.Failures, totals.Cost, totals.Savings)
			fmt.Printf("Cache hits: %d  Templated: %d  Batched: %d\n\n",
				totals.CacheHits, totals.Templated, totals.Batched)

			breakdown, err := l.ModelBreakdown(ctx, caller, since)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tOPERATIONS\tCOST\tAVG COST\tSAVINGS\tEFFICIENCY")
			for _, row := range breakdown {
				fmt.Fprintf(w, "%s\t%d\t$%.4f\t$%.4f\t$%.4f\t%.2f\n",
					row.Model, row.Operations, row.Cost, row.AvgCost, row.Savings, row.Efficiency)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "fabula.yaml", "path to config file")
	cmd.Flags().StringVar(&caller, "caller", "", "filter by caller id")
	cmd.Flags().IntVar(&days, "days", 30, "look-back window in days")
	return cmd
}

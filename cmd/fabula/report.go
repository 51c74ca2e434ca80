package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabula-ai/fabula/pkg/analytics"
	"github.com/fabula-ai/fabula/pkg/config"
	"github.com/fabula-ai/fabula/pkg/ledger"
	"github.com/fabula-ai/fabula/pkg/selector"
)

func newReportCmd() *cobra.Command {
	var (
		configPath string
		caller     string
		days       int
		system     bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show cost analytics and optimization suggestions",
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

			registry := selector.NewRegistry(cfg.Models)
			an := analytics.New(l, registry, cfg.Budget.Default, slog.Default())

			ctx := context.Background()
			since := time.Now().UTC().AddDate(0, 0, -days)

			if system {
				return printSystemReport(ctx, an, since)
			}
			return printCallerReport(ctx, an, caller, since)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "fabula.yaml", "path to config file")
	cmd.Flags().StringVar(&caller, "caller", "", "filter by caller id")
	cmd.Flags().IntVar(&days, "days", 30, "look-back window in days")
	cmd.Flags().BoolVar(&system, "system", false, "system-wide savings report across all callers")
	return cmd
}

func printCallerReport(ctx context.Context, an *analytics.Analyzer, caller string, since time.Time) error {
	report, err := an.Report(ctx, caller, since)
	if err != nil {
		return err
	}
	if report.Totals.Operations == 0 {
		fmt.Println("No recorded operations in range.")
		return nil
	}

	fmt.Printf("Since %s  Operations: %d  Cost: $%.4f  Potential savings: $%.4f\n\n",
		since.Format("2006-01-02"), report.Totals.Operations, report.Totals.Cost, report.Totals.Savings)

	if len(report.TopOpTypes) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "OPERATION TYPE\tCOUNT\tCOST\tSHARE")
		for _, row := range report.TopOpTypes {
			fmt.Fprintf(w, "%s\t%d\t$%.4f\t%.0f%%\n", row.OpType, row.Operations, row.Cost, row.Share*100)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Println()
	}

	if len(report.Suggestions) == 0 {
		fmt.Println("No optimization suggestions.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUGGESTION\tEST. SAVINGS\tIMPACT\tDIFFICULTY")
	for _, s := range report.Suggestions {
		fmt.Fprintf(w, "%s\t$%.4f\t%s\t%s\n", s.Description, s.EstimatedSavings, s.Impact, s.Difficulty)
	}
	return w.Flush()
}

func printSystemReport(ctx context.Context, an *analytics.Analyzer, since time.Time) error {
	report, err := an.SystemReport(ctx, since)
	if err != nil {
		return err
	}

	fmt.Printf("Since %s  Total cost: $%.4f  Total savings: $%.4f\n\n",
		since.Format("2006-01-02"), report.TotalCost, report.TotalSavings)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tSAVINGS")
	for _, cat := range []string{"cache", "model-selection", "templates", "batching"} {
		fmt.Fprintf(w, "%s\t$%.4f\n", cat, report.SavingsByCategory[cat])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(report.Leaderboard) == 0 {
		return nil
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CALLER\tOPERATIONS\tCOST\tSAVINGS\tCACHE HITS")
	for _, row := range report.Leaderboard {
		fmt.Fprintf(w, "%s\t%d\t$%.4f\t$%.4f\t%d\n",
			row.CallerID, row.Operations, row.Cost, row.Savings, row.CacheHits)
	}
	return w.Flush()
}

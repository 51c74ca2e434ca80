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
	"github.com/fabula-ai/fabula/pkg/models"
	"github.com/fabula-ai/fabula/pkg/selector"
)

func newBudgetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show caller budget status against monthly limits",
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
			for _, b := range cfg.Budget.Callers {
				an.SetBudget(b)
			}

			ctx := context.Background()
			callers, err := l.CallerTotals(ctx, monthStartNow())
			if err != nil {
				return err
			}
			known := make(map[string]bool, len(callers))
			for _, c := range callers {
				known[c.CallerID] = true
			}
			for _, b := range cfg.Budget.Callers {
				if !known[b.CallerID] {
					callers = append(callers, modelsCallerRow(b.CallerID))
				}
			}
			if len(callers) == 0 {
				fmt.Println("No callers with budget activity this month.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CALLER\tHEALTH\tMONTHLY\tSPEND\tPROJECTED\tREMAINING\tUTILIZATION")
			for _, c := range callers {
				status, err := an.BudgetStatus(ctx, c.CallerID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t$%.2f\t$%.4f\t$%.4f\t$%.4f\t%.0f%%\n",
					status.CallerID, status.Health, status.Budget.Monthly,
					status.Spend, status.Projected, status.Remaining, status.Utilization*100)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "fabula.yaml", "path to config file")
	return cmd
}

func monthStartNow() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func modelsCallerRow(callerID string) models.CallerTotalRow {
	return models.CallerTotalRow{CallerID: callerID}
}

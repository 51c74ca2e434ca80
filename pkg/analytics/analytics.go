// Package analytics tracks spend against per-caller monthly budgets,
// raises threshold alerts, and derives optimization suggestions from the
// cost ledger.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fabula-ai/fabula/pkg/ledger"
	"github.com/fabula-ai/fabula/pkg/models"
	"github.com/fabula-ai/fabula/pkg/selector"
)

// maxAlerts bounds the recent-alerts buffer.
const maxAlerts = 100

// topOpTypes is how many cost-driving operation types a report lists.
const topOpTypes = 5

// Analyzer owns the cost ledger feedback loop: recording outcomes,
// watching budgets, and producing reports.
type Analyzer struct {
	ledger   ledger.Ledger
	registry *selector.Registry
	logger   *slog.Logger

	mu            sync.Mutex
	defaultBudget models.Budget
	budgets       map[string]models.Budget
	alerts        []models.BudgetAlert
	// raised maps caller+severity to the billing month it last fired,
	// so each threshold alerts once per period.
	raised map[string]string

	now func() time.Time
}

// New creates an Analyzer. The registry prices hindsight-optimal tiers
// for potential-savings computation.
func New(l ledger.Ledger, registry *selector.Registry, defaultBudget models.Budget, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		ledger:        l,
		registry:      registry,
		logger:        logger,
		defaultBudget: defaultBudget,
		budgets:       make(map[string]models.Budget),
		raised:        make(map[string]string),
		now:           time.Now,
	}
}

// SetBudget configures a caller's budget.
func (a *Analyzer) SetBudget(b models.Budget) {
	a.mu.Lock()
	a.budgets[b.CallerID] = b
	a.mu.Unlock()
}

// Budget returns a caller's budget, falling back to the default.
func (a *Analyzer) Budget(callerID string) models.Budget {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.budgets[callerID]; ok {
		return b
	}
	b := a.defaultBudget
	b.CallerID = callerID
	return b
}

// RecordCost appends a ledger entry, computing potential savings from
// the flagged optimized tier, then evaluates the caller's budget alerts.
// Failed operations are recorded too so failure rates stay visible.
func (a *Analyzer) RecordCost(ctx context.Context, entry models.CostEntry) error {
	entry.PotentialSavings = a.potentialSavings(entry)

	if err := a.ledger.Record(ctx, entry); err != nil {
		return fmt.Errorf("record cost: %w", err)
	}
	a.evaluateAlerts(ctx, entry.CallerID)
	return nil
}

// potentialSavings is the hindsight delta between actual cost and the
// flagged optimized tier's cost for the same token counts, floored at 0.
func (a *Analyzer) potentialSavings(entry models.CostEntry) float64 {
	if entry.OptimizedModel == "" || entry.OptimizedModel == entry.Model {
		return 0
	}
	optimized, ok := a.registry.Get(entry.OptimizedModel)
	if !ok {
		return 0
	}
	savings := entry.Cost - optimized.EstimateCost(entry.InputTokens, entry.OutputTokens)
	if savings < 0 {
		return 0
	}
	return savings
}

// BudgetStatus recomputes current-month spend from the ledger and
// classifies it against the caller's thresholds, with a linear
// end-of-month projection.
func (a *Analyzer) BudgetStatus(ctx context.Context, callerID string) (models.BudgetStatus, error) {
	budget := a.Budget(callerID)
	now := a.now().UTC()

	spend, err := a.ledger.SpendSince(ctx, callerID, monthStart(now))
	if err != nil {
		return models.BudgetStatus{}, fmt.Errorf("budget status: %w", err)
	}

	daysInMonth := monthStart(now).AddDate(0, 1, 0).Sub(monthStart(now)).Hours() / 24
	projected := spend / float64(now.Day()) * daysInMonth

	status := models.BudgetStatus{
		CallerID:  callerID,
		Budget:    budget,
		Spend:     spend,
		Projected: projected,
		Remaining: budget.Monthly - spend,
	}
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	if budget.Monthly > 0 {
		status.Utilization = spend / budget.Monthly
	}
	status.Health = classify(status.Utilization, budget)
	return status, nil
}

func classify(utilization float64, b models.Budget) models.BudgetHealth {
	switch {
	case utilization >= 1:
		return models.BudgetExceeded
	case utilization >= b.CriticalAt:
		return models.BudgetCritical
	case utilization >= b.WarnAt:
		return models.BudgetWarning
	default:
		return models.BudgetHealthy
	}
}

// evaluateAlerts raises each crossed threshold once per billing period.
func (a *Analyzer) evaluateAlerts(ctx context.Context, callerID string) {
	budget := a.Budget(callerID)
	if !budget.AlertsEnabled || budget.Monthly <= 0 {
		return
	}

	status, err := a.BudgetStatus(ctx, callerID)
	if err != nil {
		a.logger.Warn("budget alert evaluation failed", "caller", callerID, "error", err)
		return
	}

	period := a.now().UTC().Format("2006-01")
	thresholds := []struct {
		fraction float64
		severity models.AlertSeverity
	}{
		{budget.WarnAt, models.SeverityWarning},
		{budget.CriticalAt, models.SeverityCritical},
		{1.0, models.SeverityExceeded},
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, th := range thresholds {
		if status.Utilization < th.fraction {
			continue
		}
		key := callerID + "/" + string(th.severity)
		if a.raised[key] == period {
			continue
		}
		a.raised[key] = period

		alert := models.BudgetAlert{
			CallerID:        callerID,
			Severity:        th.severity,
			Threshold:       th.fraction,
			Spend:           status.Spend,
			Recommendations: alertRecommendations(th.severity, status),
			Timestamp:       a.now().UTC(),
		}
		a.alerts = append(a.alerts, alert)
		if len(a.alerts) > maxAlerts {
			a.alerts = a.alerts[len(a.alerts)-maxAlerts:]
		}
		a.logger.Warn("budget threshold crossed",
			"caller", callerID,
			"severity", th.severity,
			"spend", status.Spend,
			"monthly", budget.Monthly,
		)
	}
}

func alertRecommendations(severity models.AlertSeverity, status models.BudgetStatus) []string {
	switch severity {
	case models.SeverityExceeded:
		return []string{
			"monthly budget exhausted; queue non-urgent operations for next period",
			"raise the monthly budget or enable auto-optimize to downgrade tiers",
		}
	case models.SeverityCritical:
		return []string{
			fmt.Sprintf("projected end-of-month spend $%.2f; defer low-priority operations", status.Projected),
			"switch complex operations to a cheaper tier where quality allows",
		}
	default:
		return []string{
			"review the cost report for downgrade and caching opportunities",
		}
	}
}

// RecentAlerts returns buffered alerts for a caller, oldest first. An
// empty caller id returns all.
func (a *Analyzer) RecentAlerts(callerID string) []models.BudgetAlert {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.BudgetAlert, 0, len(a.alerts))
	for _, alert := range a.alerts {
		if callerID == "" || alert.CallerID == callerID {
			out = append(out, alert)
		}
	}
	return out
}

// Report aggregates a caller's ledger activity since a given time and
// derives ranked optimization suggestions.
func (a *Analyzer) Report(ctx context.Context, callerID string, since time.Time) (models.AnalyticsReport, error) {
	totals, err := a.ledger.Totals(ctx, callerID, since)
	if err != nil {
		return models.AnalyticsReport{}, err
	}
	types, err := a.ledger.TypeTotals(ctx, callerID, since)
	if err != nil {
		return models.AnalyticsReport{}, err
	}
	if len(types) > topOpTypes {
		types = types[:topOpTypes]
	}
	usage, err := a.ledger.ModelBreakdown(ctx, callerID, since)
	if err != nil {
		return models.AnalyticsReport{}, err
	}
	hist, err := a.ledger.HourHistogram(ctx, callerID, since)
	if err != nil {
		return models.AnalyticsReport{}, err
	}

	return models.AnalyticsReport{
		CallerID:      callerID,
		Since:         since,
		Totals:        totals,
		TopOpTypes:    types,
		ModelUsage:    usage,
		HourHistogram: hist,
		Suggestions:   a.suggestions(totals, usage),
	}, nil
}

// suggestions derives optimization opportunities from aggregated usage.
func (a *Analyzer) suggestions(totals models.LedgerTotals, usage []models.ModelUsageRow) []models.Suggestion {
	var out []models.Suggestion
	if totals.Operations == 0 {
		return out
	}

	// Downgrade potential: heavy spend on a tier with a cheaper sibling.
	for _, row := range usage {
		profile, ok := a.registry.Get(row.Model)
		if !ok || totals.Cost <= 0 {
			continue
		}
		share := row.Cost / totals.Cost
		cheaper := a.registry.Cheapest(1000, 1000)
		if share > 0.4 && cheaper.ID != row.Model {
			out = append(out, models.Suggestion{
				Kind: "model-downgrade",
				Description: fmt.Sprintf(
					"%.0f%% of spend runs on %s; route simpler operations to %s",
					share*100, profile.Name, cheaper.Name),
				EstimatedSavings: row.Cost * 0.3,
				Impact:           models.ImpactHigh,
				Difficulty:       models.DifficultyMedium,
			})
		}
	}

	untemplated := 1 - float64(totals.Templated)/float64(totals.Operations)
	if untemplated > 0.5 && totals.Cost > 0 {
		out = append(out, models.Suggestion{
			Kind: "templates",
			Description: fmt.Sprintf(
				"%.0f%% of operations run without optimized templates; templating saves 20-30%% of prompt tokens",
				untemplated*100),
			EstimatedSavings: totals.Cost * untemplated * 0.25,
			Impact:           models.ImpactMedium,
			Difficulty:       models.DifficultyEasy,
		})
	}

	if totals.Batched == 0 && totals.Operations >= 20 {
		out = append(out, models.Suggestion{
			Kind:             "batching",
			Description:      "no operations are batched; batching related generations cuts per-call overhead",
			EstimatedSavings: totals.Cost * 0.1,
			Impact:           models.ImpactMedium,
			Difficulty:       models.DifficultyMedium,
		})
	}

	if totals.Operations >= 10 {
		hitRate := float64(totals.CacheHits) / float64(totals.Operations)
		if hitRate < 0.2 {
			out = append(out, models.Suggestion{
				Kind: "cache-hit-rate",
				Description: fmt.Sprintf(
					"cache hit rate is %.0f%%; reuse of repeated prompts is being missed", hitRate*100),
				EstimatedSavings: totals.Cost * 0.15,
				Impact:           models.ImpactHigh,
				Difficulty:       models.DifficultyEasy,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].EstimatedSavings > out[j].EstimatedSavings
	})
	return out
}

// SystemReport aggregates spend and savings across all callers,
// attributing savings to the mechanism that produced them.
func (a *Analyzer) SystemReport(ctx context.Context, since time.Time) (models.SystemReport, error) {
	totals, err := a.ledger.Totals(ctx, "", since)
	if err != nil {
		return models.SystemReport{}, err
	}
	leaderboard, err := a.ledger.CallerTotals(ctx, since)
	if err != nil {
		return models.SystemReport{}, err
	}

	paid := totals.Operations - totals.CacheHits
	var avgCost float64
	if paid > 0 {
		avgCost = totals.Cost / float64(paid)
	}
	byCategory := map[string]float64{
		"cache":           float64(totals.CacheHits) * avgCost,
		"model-selection": totals.Savings,
		"templates":       float64(totals.Templated) * avgCost * 0.25,
		"batching":        float64(totals.Batched) * avgCost * 0.1,
	}

	var total float64
	for _, v := range byCategory {
		total += v
	}
	return models.SystemReport{
		Since:             since,
		SavingsByCategory: byCategory,
		Leaderboard:       leaderboard,
		TotalCost:         totals.Cost,
		TotalSavings:      total,
	}, nil
}

func monthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

package models

import "time"

// LedgerTotals aggregates ledger rows for one caller and range.
type LedgerTotals struct {
	Operations int     `json:"operations"`
	Failures   int     `json:"failures"`
	Cost       float64 `json:"cost"`
	Savings    float64 `json:"savings"`
	CacheHits  int     `json:"cache_hits"`
	Templated  int     `json:"templated"`
	Batched    int     `json:"batched"`
}

// TypeTotalRow is one operation type's share of spend.
type TypeTotalRow struct {
	OpType     OperationType `json:"op_type"`
	Operations int           `json:"operations"`
	Cost       float64       `json:"cost"`
	Share      float64       `json:"share"`
}

// ModelUsageRow is one model tier's aggregated ledger usage.
type ModelUsageRow struct {
	Model      string  `json:"model"`
	Operations int     `json:"operations"`
	Cost       float64 `json:"cost"`
	AvgCost    float64 `json:"avg_cost"`
	Savings    float64 `json:"savings"`
	// Efficiency is 1 - savings/cost; 1.0 means no money left on the table.
	Efficiency float64 `json:"efficiency"`
}

// CallerTotalRow aggregates one caller's spend and realized savings.
type CallerTotalRow struct {
	CallerID   string  `json:"caller_id"`
	Operations int     `json:"operations"`
	Cost       float64 `json:"cost"`
	Savings    float64 `json:"savings"`
	CacheHits  int     `json:"cache_hits"`
}

// SuggestionImpact tiers an optimization suggestion's payoff.
type SuggestionImpact string

const (
	ImpactHigh   SuggestionImpact = "high"
	ImpactMedium SuggestionImpact = "medium"
	ImpactLow    SuggestionImpact = "low"
)

// SuggestionDifficulty tiers the effort to adopt a suggestion.
type SuggestionDifficulty string

const (
	DifficultyEasy   SuggestionDifficulty = "easy"
	DifficultyMedium SuggestionDifficulty = "medium"
	DifficultyHard   SuggestionDifficulty = "hard"
)

// Suggestion is one derived optimization opportunity.
type Suggestion struct {
	Kind             string               `json:"kind"`
	Description      string               `json:"description"`
	EstimatedSavings float64              `json:"estimated_savings"`
	Impact           SuggestionImpact     `json:"impact"`
	Difficulty       SuggestionDifficulty `json:"difficulty"`
}

// AnalyticsReport is the aggregated cost view for one caller and range.
type AnalyticsReport struct {
	CallerID string    `json:"caller_id"`
	Since    time.Time `json:"since"`

	Totals        LedgerTotals    `json:"totals"`
	TopOpTypes    []TypeTotalRow  `json:"top_op_types"`
	ModelUsage    []ModelUsageRow `json:"model_usage"`
	HourHistogram [24]float64     `json:"hour_histogram"`
	Suggestions   []Suggestion    `json:"suggestions"`
}

// SystemReport aggregates savings across all callers.
type SystemReport struct {
	Since time.Time `json:"since"`

	// SavingsByCategory keys: cache, model-selection, templates, batching.
	SavingsByCategory map[string]float64 `json:"savings_by_category"`
	Leaderboard       []CallerTotalRow   `json:"leaderboard"`
	TotalCost         float64            `json:"total_cost"`
	TotalSavings      float64            `json:"total_savings"`
}

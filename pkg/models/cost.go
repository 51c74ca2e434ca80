package models

import "time"

// CostEntry is an immutable ledger row recording one completed or failed
// operation. Entries are append-only; the ledger retains at most the most
// recent N entries per caller.
type CostEntry struct {
	ID        int64         `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	CallerID  string        `json:"caller_id"`
	OpType    OperationType `json:"op_type"`
	Model     string        `json:"model"`

	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`

	// OptimizedModel is the tier that would have been optimal in
	// hindsight, if one was flagged.
	OptimizedModel string `json:"optimized_model,omitempty"`
	// PotentialSavings is actual cost minus the optimized tier's
	// hypothetical cost, never negative.
	PotentialSavings float64 `json:"potential_savings"`

	QualityScore   float64 `json:"quality_score,omitempty"`
	ResponseTimeMs int64   `json:"response_time_ms"`
	CacheHit       bool    `json:"cache_hit"`
	Success        bool    `json:"success"`

	BatchID    string `json:"batch_id,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
}

// Budget is per-caller budget configuration. Current-month spend is
// always recomputed from ledger rows, never stored here.
type Budget struct {
	CallerID string `json:"caller_id" yaml:"caller_id"`

	// Monthly is the budget ceiling in USD for a calendar month.
	Monthly float64 `json:"monthly" yaml:"monthly"`

	// WarnAt and CriticalAt are utilization fractions (0-1).
	WarnAt     float64 `json:"warn_at" yaml:"warn_at"`
	CriticalAt float64 `json:"critical_at" yaml:"critical_at"`

	AlertsEnabled bool `json:"alerts_enabled" yaml:"alerts_enabled"`
	AutoOptimize  bool `json:"auto_optimize" yaml:"auto_optimize"`
}

// BudgetHealth classifies spend against budget thresholds.
type BudgetHealth string

const (
	BudgetHealthy  BudgetHealth = "healthy"
	BudgetWarning  BudgetHealth = "warning"
	BudgetCritical BudgetHealth = "critical"
	BudgetExceeded BudgetHealth = "exceeded"
)

// BudgetStatus is a point-in-time view of a caller's budget.
type BudgetStatus struct {
	CallerID string       `json:"caller_id"`
	Health   BudgetHealth `json:"health"`
	Budget   Budget       `json:"budget"`

	// Spend is current-month spend recomputed from the ledger.
	Spend float64 `json:"spend"`
	// Projected is linear end-of-month spend from the elapsed-day rate.
	Projected   float64 `json:"projected"`
	Remaining   float64 `json:"remaining"`
	Utilization float64 `json:"utilization"`
}

// AlertSeverity ranks budget alerts.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
	SeverityExceeded AlertSeverity = "exceeded"
)

// BudgetAlert is generated when recorded spend crosses a threshold.
// Alerts are informational and never block admission.
type BudgetAlert struct {
	CallerID        string        `json:"caller_id"`
	Severity        AlertSeverity `json:"severity"`
	Threshold       float64       `json:"threshold"`
	Spend           float64       `json:"spend"`
	Recommendations []string      `json:"recommendations"`
	Timestamp       time.Time     `json:"timestamp"`
}

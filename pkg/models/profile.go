package models

// ModelProfile is a static description of one provider model tier.
// Profiles are loaded once at startup and never mutated.
type ModelProfile struct {
	Name string `json:"name" yaml:"name"`
	// ID is the provider-side model identifier.
	ID string `json:"id" yaml:"id"`

	// Per-1K-token prices in USD.
	InputCostPer1K  float64 `json:"input_cost_per_1k" yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `json:"output_cost_per_1k" yaml:"output_cost_per_1k"`

	// Capability vector, each 1-10 except MaxContext.
	MaxContext     int `json:"max_context" yaml:"max_context"`
	Reasoning      int `json:"reasoning" yaml:"reasoning"`
	Creativity     int `json:"creativity" yaml:"creativity"`
	Speed          int `json:"speed" yaml:"speed"`
	CostEfficiency int `json:"cost_efficiency" yaml:"cost_efficiency"`

	// Capability tags this tier is well or poorly suited for.
	BestFor  []string `json:"best_for" yaml:"best_for"`
	WorstFor []string `json:"worst_for,omitempty" yaml:"worst_for,omitempty"`
}

// EstimateCost returns the expected USD cost of a call with the given
// token counts.
func (p ModelProfile) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*p.InputCostPer1K +
		float64(outputTokens)/1000*p.OutputCostPer1K
}

// Complexity classifies how demanding a task is.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// TaskProfile is the ephemeral, per-operation input to model selection.
// It is derived from a request and never persisted.
type TaskProfile struct {
	Type       OperationType `json:"type"`
	Complexity Complexity    `json:"complexity"`

	// Required capability scores, 1-10.
	Creativity int `json:"creativity"`
	Reasoning  int `json:"reasoning"`
	Speed      int `json:"speed"`

	// BudgetCap limits acceptable expected cost (0 = none).
	BudgetCap float64 `json:"budget_cap,omitempty"`

	// QualityThreshold is the minimum acceptable quality score (0-1).
	QualityThreshold float64 `json:"quality_threshold,omitempty"`

	EstInputTokens  int `json:"est_input_tokens"`
	EstOutputTokens int `json:"est_output_tokens"`
}

package selector

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fabula-ai/fabula/pkg/models"
)

// Scoring weights. Fractions of the total score contributed by each
// fitness dimension.
const (
	weightCost    = 0.30
	weightQuality = 0.40
	weightSpeed   = 0.15
	weightCompat  = 0.15
)

// budgetProximity is the fraction of a budget cap past which a proximity
// warning is emitted.
const budgetProximity = 0.8

// ErrNoCandidates is returned when no registered tier fits the
// profile's budget cap.
var ErrNoCandidates = errors.New("no model tier fits the task profile")

// Candidate is one scored model tier.
type Candidate struct {
	Profile      models.ModelProfile `json:"profile"`
	Score        float64             `json:"score"`
	ExpectedCost float64             `json:"expected_cost"`

	CostFitness    float64 `json:"cost_fitness"`
	QualityFitness float64 `json:"quality_fitness"`
	SpeedFitness   float64 `json:"speed_fitness"`
	Compatibility  float64 `json:"compatibility"`
}

// Recommendation is the ranked outcome of model selection.
type Recommendation struct {
	Selected        models.ModelProfile `json:"selected"`
	Confidence      float64             `json:"confidence"`
	ExpectedCost    float64             `json:"expected_cost"`
	ExpectedQuality float64             `json:"expected_quality"`
	Reasoning       []string            `json:"reasoning"`
	Alternatives    []Candidate         `json:"alternatives"`
	Optimizations   []string            `json:"optimizations"`
}

// Selector ranks registered model tiers for task profiles.
type Selector struct {
	registry *Registry
	history  *History
}

// New creates a Selector over a registry.
func New(registry *Registry) *Selector {
	return &Selector{
		registry: registry,
		history:  NewHistory(defaultHistorySize),
	}
}

// Registry returns the underlying model registry.
func (s *Selector) Registry() *Registry { return s.registry }

// History returns the rolling performance history.
func (s *Selector) History() *History { return s.history }

// RecordPerformance stores an observed provider call in the rolling
// history. Samples feed analytics only and never influence scoring.
func (s *Selector) RecordPerformance(sample PerformanceSample) {
	s.history.Record(sample)
}

// SelectOptimalModel scores every registered tier against the profile
// and returns the ranked recommendation. Deterministic for a fixed
// profile and registry: ties are broken by lowest expected cost, then
// by identifier.
func (s *Selector) SelectOptimalModel(profile models.TaskProfile) (Recommendation, error) {
	candidates := make([]Candidate, 0, len(s.registry.profiles))
	for _, p := range s.registry.List() {
		c := s.score(p, profile)
		if profile.BudgetCap > 0 && c.ExpectedCost > profile.BudgetCap {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return Recommendation{}, ErrNoCandidates
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].ExpectedCost != candidates[j].ExpectedCost {
			return candidates[i].ExpectedCost < candidates[j].ExpectedCost
		}
		return candidates[i].Profile.ID < candidates[j].Profile.ID
	})

	best := candidates[0]
	rec := Recommendation{
		Selected:        best.Profile,
		Confidence:      confidence(candidates),
		ExpectedCost:    best.ExpectedCost,
		ExpectedQuality: best.QualityFitness,
		Reasoning:       s.reasoning(best, profile),
		Alternatives:    candidates[1:],
		Optimizations:   s.optimizations(best, candidates[1:]),
	}
	return rec, nil
}

// EstimateCost returns the expected cost of running the profile on a
// specific tier, for explicit model overrides.
func (s *Selector) EstimateCost(modelID string, profile models.TaskProfile) (float64, error) {
	p, ok := s.registry.Get(modelID)
	if !ok {
		return 0, fmt.Errorf("unknown model tier %q", modelID)
	}
	return p.EstimateCost(profile.EstInputTokens, profile.EstOutputTokens), nil
}

func (s *Selector) score(p models.ModelProfile, profile models.TaskProfile) Candidate {
	cost := p.EstimateCost(profile.EstInputTokens, profile.EstOutputTokens)
	costFit := float64(p.CostEfficiency) / 10

	quality := (capabilityMatch(p.Creativity, profile.Creativity) +
		capabilityMatch(p.Reasoning, profile.Reasoning)) / 2
	speed := capabilityMatch(p.Speed, profile.Speed)
	compat := compatibility(p, profile.Type)

	return Candidate{
		Profile:        p,
		ExpectedCost:   cost,
		CostFitness:    costFit,
		QualityFitness: quality,
		SpeedFitness:   speed,
		Compatibility:  compat,
		Score: weightCost*costFit +
			weightQuality*quality +
			weightSpeed*speed +
			weightCompat*compat,
	}
}

// capabilityMatch scores a capability (1-10) against a requirement:
// the capability is adjusted +2 when it meets the requirement and -2
// when it falls short, then normalized to 0-1.
func capabilityMatch(capability, required int) float64 {
	adjusted := capability - 2
	if capability >= required {
		adjusted = capability + 2
	}
	return clamp(float64(adjusted)/10, 0, 1)
}

// compatibility is the fraction of the task type's expected capability
// tags present in the model's best-for list.
func compatibility(p models.ModelProfile, opType models.OperationType) float64 {
	expected := taskTypeTags[opType]
	if len(expected) == 0 {
		return 0.5
	}
	best := make(map[string]bool, len(p.BestFor))
	for _, tag := range p.BestFor {
		best[tag] = true
	}
	matched := 0
	for _, tag := range expected {
		if best[tag] {
			matched++
		}
	}
	return float64(matched) / float64(len(expected))
}

// confidence derives selection confidence from the score margin over the
// runner-up: floor 0.5, ceiling 1.0 when no runner-up exists.
func confidence(ranked []Candidate) float64 {
	if len(ranked) < 2 {
		return 1.0
	}
	margin := ranked[0].Score - ranked[1].Score
	return clamp(0.5+2*margin, 0.5, 1.0)
}

func (s *Selector) reasoning(best Candidate, profile models.TaskProfile) []string {
	out := []string{
		fmt.Sprintf("selected %s: score %.2f (quality %.2f, cost %.2f, speed %.2f, task fit %.2f)",
			best.Profile.Name, best.Score, best.QualityFitness, best.CostFitness,
			best.SpeedFitness, best.Compatibility),
	}

	switch {
	case best.QualityFitness >= 0.8:
		out = append(out, fmt.Sprintf("strong capability match for %s tasks", profile.Type))
	case best.QualityFitness >= 0.5:
		out = append(out, fmt.Sprintf("adequate capability match for %s tasks", profile.Type))
	default:
		out = append(out, fmt.Sprintf("weak capability match for %s tasks; consider relaxing requirements", profile.Type))
	}

	out = append(out, fmt.Sprintf("expected cost $%.4f per call", best.ExpectedCost))

	if profile.BudgetCap > 0 && best.ExpectedCost >= budgetProximity*profile.BudgetCap {
		out = append(out, fmt.Sprintf("expected cost $%.4f is within %.0f%% of the $%.2f budget cap",
			best.ExpectedCost, budgetProximity*100, profile.BudgetCap))
	}
	return out
}

func (s *Selector) optimizations(best Candidate, alternatives []Candidate) []string {
	var out []string
	for _, alt := range alternatives {
		if alt.ExpectedCost < best.ExpectedCost && best.Score-alt.Score <= 0.1 {
			out = append(out, fmt.Sprintf("consider %s to save ~$%.4f per call at similar fitness",
				alt.Profile.Name, best.ExpectedCost-alt.ExpectedCost))
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

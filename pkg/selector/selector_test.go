package selector

import (
	"strings"
	"testing"
	"time"

	"github.com/fabula-ai/fabula/pkg/models"
)

func analysisProfile() models.TaskProfile {
	return models.TaskProfile{
		Type:       models.OpAnalysis,
		Complexity: models.ComplexitySimple,
		Creativity: 3, Reasoning: 4, Speed: 7,
		EstInputTokens: 1500, EstOutputTokens: 400,
	}
}

func chapterProfile() models.TaskProfile {
	return models.TaskProfile{
		Type:       models.OpChapter,
		Complexity: models.ComplexityComplex,
		Creativity: 8, Reasoning: 6, Speed: 4,
		EstInputTokens: 4000, EstOutputTokens: 3000,
	}
}

func TestSelectDeterministic(t *testing.T) {
	s := New(NewRegistry(nil))
	profile := chapterProfile()

	first, err := s.SelectOptimalModel(profile)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {

		rec, err := s.SelectOptimalModel(profile)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Selected.ID != first.Selected.ID {
			t.Fatalf("selection not deterministic: %s vs %s", rec.Selected.ID, first.Selected.ID)
		}
		if len(rec.Alternatives) != len(first.Alternatives) {
			t.Fatal("alternatives not deterministic")
		}
	}
}

func TestSimpleAnalysisPicksCheapestTier(t *testing.T) {
	reg := NewRegistry(nil)
	s := New(reg)

	rec, err := s.SelectOptimalModel(analysisProfile())
	if err != nil {
		t.Fatal(err)
	}

	cheapest := reg.Cheapest(1500, 400)
	if rec.Selected.ID != cheapest.ID {
		t.Errorf("expected cheapest tier %s, got %s", cheapest.ID, rec.Selected.ID)
	}
}

func TestComplexChapterPicksCapableTier(t *testing.T) {
	s := New(NewRegistry(nil))

	rec, err := s.SelectOptimalModel(chapterProfile())
	if err != nil {
		t.Fatal(err)
	}
	if rec.Selected.Creativity < 8 {
		t.Errorf("expected a high-creativity tier, got %s (creativity %d)",
			rec.Selected.ID, rec.Selected.Creativity)
	}
	if rec.ExpectedQuality < 0.8 {
		t.Errorf("expected quality fitness >= 0.8, got %v", rec.ExpectedQuality)
	}
}

func TestBudgetCapFiltersUnaffordableTiers(t *testing.T) {
	s := New(NewRegistry(nil))
	profile := chapterProfile()
	profile.BudgetCap = 0.01 // only the cheapest tier fits

	rec, err := s.SelectOptimalModel(profile)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ExpectedCost > profile.BudgetCap {
		t.Errorf("selected tier costs $%.4f over the $%.2f cap", rec.ExpectedCost, profile.BudgetCap)
	}
	if len(rec.Alternatives) != 0 {
		t.Errorf("unaffordable tiers should not appear as alternatives, got %d", len(rec.Alternatives))
	}
}

func TestNoAffordableTier(t *testing.T) {
	s := New(NewRegistry(nil))
	profile := chapterProfile()
	profile.BudgetCap = 0.0001

	if _, err := s.SelectOptimalModel(profile); err != ErrNoCandidates {
		t.Errorf("expected ErrNoCandidates, got %v", err)
	}
}

func TestBudgetProximityWarning(t *testing.T) {
	s := New(NewRegistry(nil))
	profile := analysisProfile()
	profile.BudgetCap = 0.0008 // flash costs ~$0.00069, past 80% of cap

	rec, err := s.SelectOptimalModel(profile)
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, r := range rec.Reasoning {
		if strings.Contains(r, "budget cap") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a budget proximity warning, got %v", rec.Reasoning)
	}
}

func TestTieBreakByCost(t *testing.T) {
	// Two tiers with identical capabilities, different prices.
	profiles := []models.ModelProfile{
		{
			Name: "Pricey", ID: "tier-pricey",
			InputCostPer1K: 0.01, OutputCostPer1K: 0.02,
			MaxContext: 8000, Reasoning: 5, Creativity: 5, Speed: 5, CostEfficiency: 5,
			BestFor: []string{TagShortForm},
		},
		{
			Name: "Bargain", ID: "tier-bargain",
			InputCostPer1K: 0.001, OutputCostPer1K: 0.002,
			MaxContext: 8000, Reasoning: 5, Creativity: 5, Speed: 5, CostEfficiency: 5,
			BestFor: []string{TagShortForm},
		},
	}
	s := New(NewRegistry(profiles))

	rec, err := s.SelectOptimalModel(models.TaskProfile{
		Type: models.OpGeneral, Creativity: 4, Reasoning: 4, Speed: 4,
		EstInputTokens: 1000, EstOutputTokens: 500,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Selected.ID != "tier-bargain" {
		t.Errorf("tie should break to lowest cost, got %s", rec.Selected.ID)
	}
}

func TestConfidenceBounds(t *testing.T) {
	s := New(NewRegistry(nil))

	rec, err := s.SelectOptimalModel(chapterProfile())
	if err != nil {
		t.Fatal(err)
	}
	if rec.Confidence < 0.5 || rec.Confidence > 1.0 {
		t.Errorf("confidence %v out of [0.5, 1.0]", rec.Confidence)
	}

	// Single-tier registry has no runner-up.
	solo := New(NewRegistry(DefaultProfiles()[:1]))
	rec, err = solo.SelectOptimalModel(chapterProfile())
	if err != nil {
		t.Fatal(err)
	}
	if rec.Confidence != 1.0 {
		t.Errorf("expected 1.0 confidence with no runner-up, got %v", rec.Confidence)
	}
}

func TestEstimateCostUnknownModel(t *testing.T) {
	s := New(NewRegistry(nil))
	if _, err := s.EstimateCost("no-such-tier", analysisProfile()); err == nil {
		t.Error("expected error for unknown model tier")
	}
}

func TestHistoryBounded(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Record(PerformanceSample{
			Model:        "quill-flash-1",
			QualityScore: float64(i + 1),
			Timestamp:    time.Now(),
		})
	}

	samples := h.Samples()
	if len(samples) != 3 {
		t.Fatalf("expected 3 retained samples, got %d", len(samples))
	}
	if samples[0].QualityScore != 3 {
		t.Errorf("expected oldest surviving sample 3, got %v", samples[0].QualityScore)
	}
	if got := h.AverageQuality("quill-flash-1"); got != 4 {
		t.Errorf("expected average 4, got %v", got)
	}
}

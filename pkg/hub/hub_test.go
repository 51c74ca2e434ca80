package hub

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/fabula-ai/fabula/pkg/analytics"
	"github.com/fabula-ai/fabula/pkg/cache"
	"github.com/fabula-ai/fabula/pkg/ledger"
	"github.com/fabula-ai/fabula/pkg/models"
	"github.com/fabula-ai/fabula/pkg/provider"
	"github.com/fabula-ai/fabula/pkg/quality"
	"github.com/fabula-ai/fabula/pkg/scheduler"
	"github.com/fabula-ai/fabula/pkg/selector"
)

type testStack struct {
	hub      *Hub
	provider *provider.Scripted
	analyzer *analytics.Analyzer
	sched    *scheduler.Scheduler
}

func newTestStack(t *testing.T, cfg Config, budget models.Budget) *testStack {
	t.Helper()

	registry := selector.NewRegistry(nil)
	sel := selector.New(registry)

	c, err := cache.New(100, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(c.Close)

	l, err := ledger.New(filepath.Join(t.TempDir(), "fabula.db"), 1000)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	an := analytics.New(l, registry, budget, logger)
	scripted := provider.NewScripted(registry)
	sched := scheduler.New(scheduler.Config{
		MaxConcurrent: 3,
		BudgetCeiling: 50,
		Tick:          20 * time.Millisecond,
	}, scripted, c, logger)
	t.Cleanup(sched.Close)

	if cfg.AwaitTimeout == 0 {
		cfg.AwaitTimeout = 5 * time.Second
	}
	h := New(cfg, sel, c, sched, an, quality.NewHeuristic(), logger)
	return &testStack{hub: h, provider: scripted, analyzer: an, sched: sched}
}

func defaultBudget() models.Budget {
	return models.Budget{Monthly: 100, WarnAt: 0.8, CriticalAt: 0.95, AlertsEnabled: true}
}

func analysisRequest() Request {
	return Request{
		CallerID: "studio",
		Type:     models.OpAnalysis,
		Params: models.AnalysisParams{
			Content: "The harbor town chapter drags in its middle scenes.",
			Aspects: []string{"pacing", "structure"},
		},
		Priority:  2,
		BudgetCap: 1,
	}
}

func TestLowPriorityAnalysisUsesCheapestTier(t *testing.T) {
	ts := newTestStack(t, Config{}, defaultBudget())
	ctx := context.Background()

	res := ts.hub.ProcessRequest(ctx, analysisRequest())
	if !res.Success {
		t.Fatalf("request failed: %s", res.Error)
	}
	if res.Optimizations.SelectedModel != "quill-flash-1" {
		t.Fatalf("selected = %s, want quill-flash-1", res.Optimizations.SelectedModel)
	}
	if res.Cost <= 0 {
		t.Fatalf("cost = %f, want > 0", res.Cost)
	}
	if res.OperationID == "" {
		t.Fatal("operation id not generated")
	}

	// The identical follow-up request is served from cache: zero cost,
	// no further provider call.
	before := ts.provider.Calls()
	repeat := ts.hub.ProcessRequest(ctx, analysisRequest())
	if !repeat.Success {
		t.Fatalf("repeat failed: %s", repeat.Error)
	}
	if !repeat.Optimizations.CacheHit {
		t.Fatal("expected cache hit")
	}
	if repeat.Cost != 0 {
		t.Fatalf("cache hit cost = %f, want 0", repeat.Cost)
	}
	if ts.provider.Calls() != before {
		t.Fatal("cache hit invoked the provider")
	}
	if repeat.Optimizations.CostSaved <= 0 {
		t.Fatal("cache hit should report avoided cost")
	}
}

func TestComplexChapterUsesCapableTier(t *testing.T) {
	ts := newTestStack(t, Config{}, defaultBudget())

	res := ts.hub.ProcessRequest(context.Background(), Request{
		CallerID: "studio",
		Type:     models.OpChapter,
		Params: models.ChapterParams{
			FoundationID:  "f-1",
			ChapterNumber: 3,
			Outline:       "The crew discovers the stowaway and debates turning back.",
			TargetWords:   2200,
		},
	})
	if !res.Success {
		t.Fatalf("request failed: %s", res.Error)
	}
	if res.Optimizations.SelectedModel != "quill-pro-1" {
		t.Fatalf("selected = %s, want quill-pro-1", res.Optimizations.SelectedModel)
	}
	if res.Performance.QualityScore <= 0 {
		t.Fatal("quality score not assessed")
	}
}

func TestHighPriorityDispatchesImmediately(t *testing.T) {
	ts := newTestStack(t, Config{}, defaultBudget())

	res := ts.hub.ProcessRequest(context.Background(), Request{
		CallerID: "studio",
		Type:     models.OpGeneral,
		Params:   models.GeneralParams{Prompt: "Summarize the synopsis in two sentences."},
		Priority: 9,
		Urgency:  models.UrgencyImmediate,
	})
	if !res.Success {
		t.Fatalf("request failed: %s", res.Error)
	}
	st := ts.sched.Stats()
	if st.HighQueued+st.NormalQueued+st.LowQueued != 0 {
		t.Fatalf("immediate dispatch left queued work: %+v", st)
	}
}

func TestValidationFailureIsRecorded(t *testing.T) {
	ts := newTestStack(t, Config{}, defaultBudget())
	ctx := context.Background()

	res := ts.hub.ProcessRequest(ctx, Request{
		CallerID: "studio",
		Type:     models.OpGeneral,
		Params:   models.GeneralParams{Prompt: "   "},
	})
	if res.Success {
		t.Fatal("empty prompt should fail validation")
	}
	if res.Error == "" || res.Cost != 0 {
		t.Fatalf("failure result = %+v", res)
	}
	if len(res.Recommendations) == 0 {
		t.Fatal("failure should carry a retry recommendation")
	}

	report, err := ts.analyzer.Report(ctx, "studio", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.Totals.Failures != 1 {
		t.Fatalf("failures = %d, want 1", report.Totals.Failures)
	}
}

func TestProviderFailureReturnsStructuredResult(t *testing.T) {
	ts := newTestStack(t, Config{}, defaultBudget())
	ts.provider.FailWith(provider.NewError(provider.KindAuthFailed, "key revoked"))

	res := ts.hub.ProcessRequest(context.Background(), Request{
		CallerID: "studio",
		Type:     models.OpGeneral,
		Params:   models.GeneralParams{Prompt: "Draft a tagline."},
		Priority: 9,
	})
	if res.Success {
		t.Fatal("provider failure should surface as failed result")
	}
	if res.Error == "" {
		t.Fatal("failure result missing error detail")
	}
}

func TestModelOverrideFlagsOptimizedTier(t *testing.T) {
	ts := newTestStack(t, Config{}, defaultBudget())
	ctx := context.Background()

	req := analysisRequest()
	req.BudgetCap = 0
	req.ModelOverride = "quill-pro-1"
	res := ts.hub.ProcessRequest(ctx, req)
	if !res.Success {
		t.Fatalf("request failed: %s", res.Error)
	}
	if res.Optimizations.SelectedModel != "quill-pro-1" {
		t.Fatalf("override ignored, selected %s", res.Optimizations.SelectedModel)
	}

	report, err := ts.analyzer.Report(ctx, "studio", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.Totals.Savings <= 0 {
		t.Fatal("override above the recommended tier should record potential savings")
	}
}

func TestHaltOnExceededRejectsNewWork(t *testing.T) {
	budget := models.Budget{Monthly: 0.000001, WarnAt: 0.8, CriticalAt: 0.95}
	ts := newTestStack(t, Config{HaltOnExceeded: true}, budget)
	ctx := context.Background()

	first := ts.hub.ProcessRequest(ctx, Request{
		CallerID: "studio",
		Type:     models.OpGeneral,
		Params:   models.GeneralParams{Prompt: "Draft a short blurb for the back cover."},
		Priority: 9,
	})
	if !first.Success {
		t.Fatalf("first request failed: %s", first.Error)
	}

	second := ts.hub.ProcessRequest(ctx, Request{
		CallerID: "studio",
		Type:     models.OpGeneral,
		Params:   models.GeneralParams{Prompt: "Draft another blurb, different angle."},
		Priority: 9,
	})
	if second.Success {
		t.Fatal("exceeded caller should be rejected when halting is on")
	}
}

func TestSystemOptimizationReport(t *testing.T) {
	ts := newTestStack(t, Config{}, defaultBudget())
	ctx := context.Background()

	if res := ts.hub.ProcessRequest(ctx, analysisRequest()); !res.Success {
		t.Fatalf("request failed: %s", res.Error)
	}
	if res := ts.hub.ProcessRequest(ctx, analysisRequest()); !res.Success {
		t.Fatalf("repeat failed: %s", res.Error)
	}

	report, err := ts.hub.SystemOptimizationReport(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("SystemOptimizationReport: %v", err)
	}
	if report.TotalCost <= 0 {
		t.Fatalf("total cost = %f, want > 0", report.TotalCost)
	}
	if len(report.Leaderboard) != 1 || report.Leaderboard[0].CallerID != "studio" {
		t.Fatalf("leaderboard = %+v", report.Leaderboard)
	}
	if report.SavingsByCategory["cache"] <= 0 {
		t.Fatal("cache reuse should attribute savings")
	}
}

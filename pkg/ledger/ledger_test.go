package ledger

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/fabula-ai/fabula/pkg/models"
)

func newTestLedger(t *testing.T, maxPerCaller int) *SQLiteLedger {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger_test.db")
	l, err := New(dbPath, maxPerCaller)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func entry(caller string, opType models.OperationType, model string, cost float64) models.CostEntry {
	return models.CostEntry{
		CallerID: caller, OpType: opType, Model: model,
		InputTokens: 1000, OutputTokens: 500, Cost: cost,
		Success: true, Timestamp: time.Now().UTC(),
	}
}

func TestRecordAndEntriesSince(t *testing.T) {
	l := newTestLedger(t, 0)
	ctx := context.Background()

	e := entry("writer-1", models.OpChapter, "quill-pro-1", 0.12)
	e.QualityScore = 0.8
	e.CacheHit = false
	if err := l.Record(ctx, e); err != nil {
		t.Fatal(err)
	}

	entries, err := l.EntriesSince(ctx, "writer-1", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.OpType != models.OpChapter || got.Cost != 0.12 || !got.Success {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.QualityScore != 0.8 {
		t.Errorf("expected quality 0.8, got %v", got.QualityScore)
	}
}

func TestSpendSinceExcludesFailures(t *testing.T) {
	l := newTestLedger(t, 0)
	ctx := context.Background()

	_ = l.Record(ctx, entry("writer-1", models.OpChapter, "quill-pro-1", 0.10))
	failed := entry("writer-1", models.OpChapter, "quill-pro-1", 0)
	failed.Success = false
	_ = l.Record(ctx, failed)

	spend, err := l.SpendSince(ctx, "writer-1", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if spend != 0.10 {
		t.Errorf("expected 0.10 spend, got %v", spend)
	}
}

func TestRetentionBound(t *testing.T) {
	l := newTestLedger(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {

		_ = l.Record(ctx, entry("writer-1", models.OpGeneral, "quill-flash-1", 0.01))
	}
	_ = l.Record(ctx, entry("writer-2", models.OpGeneral, "quill-flash-1", 0.01))

	entries, err := l.EntriesSince(ctx, "writer-1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("expected 3 retained entries for writer-1, got %d", len(entries))
	}

	// Other callers are not affected by writer-1's pruning.
	entries, err = l.EntriesSince(ctx, "writer-2", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry for writer-2, got %d", len(entries))
	}
}

func TestTotalsAndTypeTotals(t *testing.T) {
	l := newTestLedger(t, 0)
	ctx := context.Background()

	_ = l.Record(ctx, entry("writer-1", models.OpChapter, "quill-pro-1", 0.30))
	_ = l.Record(ctx, entry("writer-1", models.OpAnalysis, "quill-flash-1", 0.10))
	hit := entry("writer-1", models.OpAnalysis, "quill-flash-1", 0)
	hit.CacheHit = true
	_ = l.Record(ctx, hit)

	totals, err := l.Totals(ctx, "writer-1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if totals.Operations != 3 || totals.CacheHits != 1 {
		t.Errorf("unexpected totals: %+v", totals)
	}
	if math.Abs(totals.Cost-0.40) > 1e-9 {
		t.Errorf("expected 0.40 total cost, got %v", totals.Cost)
	}

	types, err := l.TypeTotals(ctx, "writer-1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(types) != 2 {
		t.Fatalf("expected 2 type rows, got %d", len(types))
	}
	if types[0].OpType != models.OpChapter {
		t.Errorf("expected chapter to rank first, got %s", types[0].OpType)
	}
	if types[0].Share <= types[1].Share {
		t.Error("shares should rank with cost")
	}
}

func TestModelBreakdownEfficiency(t *testing.T) {
	l := newTestLedger(t, 0)
	ctx := context.Background()

	e := entry("writer-1", models.OpChapter, "quill-max-1", 1.00)
	e.OptimizedModel = "quill-pro-1"
	e.PotentialSavings = 0.25
	_ = l.Record(ctx, e)

	rows, err := l.ModelBreakdown(ctx, "writer-1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 model row, got %d", len(rows))
	}
	if rows[0].Efficiency != 0.75 {
		t.Errorf("expected efficiency 0.75, got %v", rows[0].Efficiency)
	}
	if rows[0].AvgCost != 1.00 {
		t.Errorf("expected avg cost 1.00, got %v", rows[0].AvgCost)
	}
}

func TestCallerTotalsRanked(t *testing.T) {
	l := newTestLedger(t, 0)
	ctx := context.Background()

	_ = l.Record(ctx, entry("writer-small", models.OpGeneral, "quill-flash-1", 0.01))
	_ = l.Record(ctx, entry("writer-big", models.OpChapter, "quill-max-1", 2.00))

	rows, err := l.CallerTotals(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 callers, got %d", len(rows))
	}
	if rows[0].CallerID != "writer-big" {
		t.Errorf("expected writer-big first, got %s", rows[0].CallerID)
	}
}

func TestHourHistogram(t *testing.T) {
	l := newTestLedger(t, 0)
	ctx := context.Background()

	e := entry("writer-1", models.OpGeneral, "quill-flash-1", 0.05)
	e.Timestamp = time.Date(2026, 8, 30, 14, 30, 0, 0, time.UTC)
	_ = l.Record(ctx, e)

	hist, err := l.HourHistogram(ctx, "writer-1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if hist[14] != 0.05 {
		t.Errorf("expected 0.05 in hour 14, got %v", hist[14])
	}
}

// Package hub is the orchestrating facade: it turns caller requests
// into scheduled operations, applying cache reuse, model selection,
// and cost tracking on the way through.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fabula-ai/fabula/pkg/analytics"
	"github.com/fabula-ai/fabula/pkg/cache"
	"github.com/fabula-ai/fabula/pkg/models"
	"github.com/fabula-ai/fabula/pkg/quality"
	"github.com/fabula-ai/fabula/pkg/scheduler"
	"github.com/fabula-ai/fabula/pkg/selector"
)

// Request is one caller submission.
type Request struct {
	CallerID string
	Type     models.OperationType
	Params   models.OperationParams

	// OperationID is optional; one is generated when empty.
	OperationID string

	Priority int            // defaults to 5
	Urgency  models.Urgency // defaults to normal

	BudgetCap        float64
	QualityThreshold float64
	Deadline         time.Time
	TemplateID       string
	ModelOverride    string
	DependsOn        []string

	// Optional token estimates; type defaults apply when zero.
	EstInputTokens  int
	EstOutputTokens int
}

// Config tunes hub behavior.
type Config struct {
	// AwaitTimeout bounds how long a caller blocks on a queued result.
	AwaitTimeout time.Duration
	// HaltOnExceeded rejects new requests from callers whose monthly
	// budget status is exceeded.
	HaltOnExceeded bool
}

// Hub wires the selector, cache, scheduler, and analytics into one
// request pipeline.
type Hub struct {
	cfg       Config
	selector  *selector.Selector
	cache     *cache.Cache
	scheduler *scheduler.Scheduler
	analytics *analytics.Analyzer
	assessor  quality.Assessor
	logger    *slog.Logger
}

// New creates a Hub. A nil assessor falls back to the shape heuristic.
func New(cfg Config, sel *selector.Selector, c *cache.Cache, sched *scheduler.Scheduler, an *analytics.Analyzer, assessor quality.Assessor, logger *slog.Logger) *Hub {
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = 2 * time.Minute
	}
	if assessor == nil {
		assessor = quality.NewHeuristic()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:       cfg,
		selector:  sel,
		cache:     c,
		scheduler: sched,
		analytics: an,
		assessor:  assessor,
		logger:    logger,
	}
}

// ProcessRequest runs the full pipeline for one request. It never
// returns an error: failures come back as structured results with
// Success=false, zero cost, and a retry recommendation, and are still
// recorded for analytics visibility.
func (h *Hub) ProcessRequest(ctx context.Context, req Request) models.OptimizationResult {
	started := time.Now()

	op, err := h.buildOperation(req)
	if err != nil {
		return h.fail(ctx, op, started, err)
	}

	if h.cfg.HaltOnExceeded {
		status, serr := h.analytics.BudgetStatus(ctx, op.CallerID)
		if serr == nil && status.Health == models.BudgetExceeded {
			return h.fail(ctx, op, started,
				fmt.Errorf("monthly budget exceeded for caller %s", op.CallerID))
		}
	}

	profile := taskProfileFor(req, op)
	model, expectedCost, rec, err := h.resolveModel(op, profile)
	if err != nil {
		return h.fail(ctx, op, started, err)
	}

	task := scheduler.Task{
		Op:            op,
		Model:         model,
		Prompt:        renderPrompt(op),
		MaxTokens:     profile.EstOutputTokens,
		Temperature:   temperatureFor(op.Type),
		EstimatedCost: expectedCost,
	}

	// Cache short-circuit: a hit costs nothing and never reaches the
	// provider or the queues.
	if entry, ok := h.cache.Lookup(task.Fingerprint()); ok {
		return h.finish(ctx, req, op, rec, scheduler.Outcome{
			OperationID: op.ID,
			Success:     true,
			Content:     entry.Content,
			Usage:       entry.Usage,
			Model:       model,
			CacheHit:    true,
		}, expectedCost, started)
	}

	var out scheduler.Outcome
	if op.Urgency == models.UrgencyImmediate || op.Priority >= 8 {
		out, err = h.scheduler.DispatchNow(ctx, task)
	} else {
		if err = h.scheduler.Enqueue(task); err == nil {
			out, err = h.scheduler.Await(ctx, op.ID, h.cfg.AwaitTimeout)
		}
	}
	if err != nil {
		return h.fail(ctx, op, started, err)
	}
	if !out.Success {
		return h.fail(ctx, op, started, out.Err)
	}
	return h.finish(ctx, req, op, rec, out, expectedCost, started)
}

// SystemOptimizationReport aggregates savings by category and the
// per-caller leaderboard since a point in time.
func (h *Hub) SystemOptimizationReport(ctx context.Context, since time.Time) (models.SystemReport, error) {
	return h.analytics.SystemReport(ctx, since)
}

// buildOperation validates the request and fills defaults.
func (h *Hub) buildOperation(req Request) (models.Operation, error) {
	op := models.Operation{
		ID:              req.OperationID,
		Type:            req.Type,
		Params:          req.Params,
		Priority:        req.Priority,
		Urgency:         req.Urgency,
		CallerID:        req.CallerID,
		TemplateID:      req.TemplateID,
		CostCeiling:     req.BudgetCap,
		Deadline:        req.Deadline,
		DependsOn:       req.DependsOn,
		ModelOverride:   req.ModelOverride,
		EstInputTokens:  req.EstInputTokens,
		EstOutputTokens: req.EstOutputTokens,
		CreatedAt:       time.Now(),
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Priority == 0 {
		op.Priority = 5
	}
	if op.Urgency == "" {
		op.Urgency = models.UrgencyNormal
	}
	if op.CallerID == "" {
		return op, fmt.Errorf("%w: caller id is empty", models.ErrInvalidParams)
	}
	return op, op.Validate()
}

// resolveModel honors an explicit override, otherwise runs selection.
func (h *Hub) resolveModel(op models.Operation, profile models.TaskProfile) (string, float64, selector.Recommendation, error) {
	if op.ModelOverride != "" {
		cost, err := h.selector.EstimateCost(op.ModelOverride, profile)
		if err != nil {
			return "", 0, selector.Recommendation{}, err
		}
		rec, rerr := h.selector.SelectOptimalModel(profile)
		if rerr != nil {
			rec = selector.Recommendation{}
		}
		return op.ModelOverride, cost, rec, nil
	}
	rec, err := h.selector.SelectOptimalModel(profile)
	if err != nil {
		return "", 0, rec, err
	}
	return rec.Selected.ID, rec.ExpectedCost, rec, nil
}

// finish assesses quality, records the outcome, and assembles the
// result bundle.
func (h *Hub) finish(ctx context.Context, req Request, op models.Operation, rec selector.Recommendation, out scheduler.Outcome, expectedCost float64, started time.Time) models.OptimizationResult {
	elapsed := time.Since(started)
	score := h.assessor.Assess(op.Type, out.Content)

	opts := models.Optimizations{
		SelectedModel:  out.Model,
		TemplateUsed:   op.TemplateID,
		CacheHit:       out.CacheHit,
		BatchProcessed: out.BatchID != "",
	}
	if out.CacheHit {
		// The avoided provider call is the saving.
		opts.CostSaved = expectedCost
		opts.TokensSaved = out.Usage.TotalTokens
	} else {
		opts.CostSaved = h.selectionSavings(op, out)
	}

	entry := models.CostEntry{
		Timestamp:      time.Now().UTC(),
		CallerID:       op.CallerID,
		OpType:         op.Type,
		Model:          out.Model,
		InputTokens:    out.Usage.InputTokens,
		OutputTokens:   out.Usage.OutputTokens,
		Cost:           out.Cost,
		QualityScore:   score,
		ResponseTimeMs: elapsed.Milliseconds(),
		CacheHit:       out.CacheHit,
		Success:        true,
		BatchID:        out.BatchID,
		TemplateID:     op.TemplateID,
	}
	// An override that beat the recommendation leaves savings on the
	// table; flag the recommended tier for hindsight accounting.
	if op.ModelOverride != "" && rec.Selected.ID != "" && rec.Selected.ID != out.Model {
		entry.OptimizedModel = rec.Selected.ID
	}
	if err := h.analytics.RecordCost(ctx, entry); err != nil {
		h.logger.Warn("cost recording failed", "op", op.ID, "error", err)
	}
	h.selector.RecordPerformance(selector.PerformanceSample{
		Model:        out.Model,
		OpType:       op.Type,
		QualityScore: score,
		Cost:         out.Cost,
		ResponseTime: elapsed,
		Timestamp:    time.Now().UTC(),
	})

	return models.OptimizationResult{
		Success:     true,
		OperationID: op.ID,
		Content:     out.Content,
		Usage:       out.Usage,
		Cost:        out.Cost,
		Optimizations: opts,
		Performance: models.Performance{
			ResponseTime: elapsed,
			QualityScore: score,
		},
		Recommendations: h.recommendations(ctx, req, op, rec, opts, score),
	}
}

// selectionSavings is the spend avoided versus running the same tokens
// on the priciest registered tier.
func (h *Hub) selectionSavings(op models.Operation, out scheduler.Outcome) float64 {
	var priciest float64
	for _, p := range h.selector.Registry().List() {
		if c := p.EstimateCost(out.Usage.InputTokens, out.Usage.OutputTokens); c > priciest {
			priciest = c
		}
	}
	if saved := priciest - out.Cost; saved > 0 {
		return saved
	}
	return 0
}

func (h *Hub) recommendations(ctx context.Context, req Request, op models.Operation, rec selector.Recommendation, opts models.Optimizations, score float64) []string {
	var recs []string
	if opts.CacheHit {
		recs = append(recs, fmt.Sprintf("saved $%.4f by reusing a cached result", opts.CostSaved))
	} else if opts.CostSaved > 0 {
		recs = append(recs, fmt.Sprintf("saved $%.4f via model selection", opts.CostSaved))
	}
	if op.TemplateID == "" {
		recs = append(recs, "enable optimized templates to save ~20-30% of prompt tokens")
	}
	if req.QualityThreshold > 0 && score < req.QualityThreshold {
		recs = append(recs, fmt.Sprintf("quality score %.2f is below the %.2f threshold; consider a higher tier", score, req.QualityThreshold))
	}
	recs = append(recs, rec.Optimizations...)

	if status, err := h.analytics.BudgetStatus(ctx, op.CallerID); err == nil && status.Health != models.BudgetHealthy {
		recs = append(recs, fmt.Sprintf("caller budget at %.0f%% utilization (%s)", status.Utilization*100, status.Health))
	}
	return recs
}

// fail records a zero-cost failure and returns the structured result.
func (h *Hub) fail(ctx context.Context, op models.Operation, started time.Time, cause error) models.OptimizationResult {
	if cause == nil {
		cause = errors.New("operation failed")
	}
	h.logger.Warn("request failed", "op", op.ID, "caller", op.CallerID, "error", cause)

	if op.CallerID != "" {
		entry := models.CostEntry{
			Timestamp:      time.Now().UTC(),
			CallerID:       op.CallerID,
			OpType:         op.Type,
			ResponseTimeMs: time.Since(started).Milliseconds(),
			Success:        false,
		}
		if err := h.analytics.RecordCost(ctx, entry); err != nil {
			h.logger.Warn("failure recording failed", "op", op.ID, "error", err)
		}
	}

	return models.OptimizationResult{
		OperationID: op.ID,
		Performance: models.Performance{ResponseTime: time.Since(started)},
		Recommendations: []string{
			"retry with simplified parameters or a lower quality threshold",
		},
		Error: cause.Error(),
	}
}

// taskProfileFor derives the selector input from the request type.
func taskProfileFor(req Request, op models.Operation) models.TaskProfile {
	profile := models.TaskProfile{
		Type:             op.Type,
		BudgetCap:        req.BudgetCap,
		QualityThreshold: req.QualityThreshold,
	}

	switch op.Type {
	case models.OpFoundation:
		profile.Complexity = models.ComplexityComplex
		profile.Creativity, profile.Reasoning, profile.Speed = 8, 7, 3
		profile.EstInputTokens, profile.EstOutputTokens = 900, 1600
	case models.OpChapter:
		profile.Complexity = models.ComplexityComplex
		profile.Creativity, profile.Reasoning, profile.Speed = 8, 6, 4
		profile.EstInputTokens, profile.EstOutputTokens = 1400, 2400
	case models.OpImprovement:
		profile.Complexity = models.ComplexityMedium
		profile.Creativity, profile.Reasoning, profile.Speed = 6, 5, 6
		profile.EstInputTokens, profile.EstOutputTokens = 1600, 1200
	case models.OpAnalysis:
		profile.Complexity = models.ComplexitySimple
		profile.Creativity, profile.Reasoning, profile.Speed = 3, 4, 7
		profile.EstInputTokens, profile.EstOutputTokens = 1500, 400
	default:
		profile.Complexity = models.ComplexitySimple
		profile.Creativity, profile.Reasoning, profile.Speed = 4, 4, 8
		profile.EstInputTokens, profile.EstOutputTokens = 300, 500
	}

	if op.EstInputTokens > 0 {
		profile.EstInputTokens = op.EstInputTokens
	}
	if op.EstOutputTokens > 0 {
		profile.EstOutputTokens = op.EstOutputTokens
	}
	return profile
}

func temperatureFor(opType models.OperationType) float64 {
	switch opType {
	case models.OpFoundation, models.OpChapter:
		return 0.9
	case models.OpAnalysis:
		return 0.2
	default:
		return 0.7
	}
}

// renderPrompt builds the provider prompt from typed parameters.
func renderPrompt(op models.Operation) string {
	switch p := op.Params.(type) {
	case models.FoundationParams:
		return fmt.Sprintf("Develop a story foundation for a %s story.\nPremise: %s\nThemes: %s",
			p.Genre, p.Premise, joinOrNone(p.Themes))
	case models.ChapterParams:
		return fmt.Sprintf("Write chapter %d (~%d words) following this outline:\n%s",
			p.ChapterNumber, p.TargetWords, p.Outline)
	case models.ImprovementParams:
		return fmt.Sprintf("Improve the following content, focusing on %s:\n%s", p.Focus, p.Content)
	case models.AnalysisParams:
		return fmt.Sprintf("Analyze the following content for %s. Respond with a JSON object.\n%s",
			joinOrNone(p.Aspects), p.Content)
	case models.GeneralParams:
		return p.Prompt
	default:
		return op.Params.PromptExcerpt()
	}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "general"
	}
	out := items[0]
	for _, s := range items[1:] {
		out += ", " + s
	}
	return out
}

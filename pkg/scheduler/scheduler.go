// Package scheduler admits queued operations under concurrency and
// budget limits, dispatches them to the provider, and feeds results
// back into the cache.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fabula-ai/fabula/pkg/cache"
	"github.com/fabula-ai/fabula/pkg/models"
	"github.com/fabula-ai/fabula/pkg/provider"
)

var (
	// ErrClosed is returned after Close for any submission.
	ErrClosed = errors.New("scheduler closed")
	// ErrDuplicateID is returned when an operation id is already tracked.
	ErrDuplicateID = errors.New("operation id already tracked")
	// ErrUnknownOperation is returned for ids the scheduler never saw.
	ErrUnknownOperation = errors.New("unknown operation id")
	// ErrNotQueued is returned when cancelling an operation that is
	// already dispatched or finished. In-flight work cannot be recalled.
	ErrNotQueued = errors.New("operation is not queued")
	// ErrCanceled marks the outcome of an operation removed from a queue.
	ErrCanceled = errors.New("operation canceled")
	// ErrAwaitTimeout is returned when a result does not arrive in time.
	ErrAwaitTimeout = errors.New("timed out awaiting result")
	// ErrDependencyFailed marks operations whose dependency terminated
	// unsuccessfully. They fail without ever being dispatched.
	ErrDependencyFailed = errors.New("dependency failed")
	// ErrBudgetExhausted is returned by immediate dispatch when the
	// estimated cost does not fit under the budget ceiling.
	ErrBudgetExhausted = errors.New("budget ceiling reached")
)

// Config bounds the scheduler's concurrency and spend.
type Config struct {
	// MaxConcurrent caps simultaneously dispatched operations.
	MaxConcurrent int
	// BudgetCeiling is the cumulative spend limit in USD. Zero means
	// unlimited.
	BudgetCeiling float64
	// Tick is the interval between timer-driven admission cycles.
	Tick time.Duration
}

// Task is one schedulable unit: the operation plus the tier and prompt
// the hub resolved for it.
type Task struct {
	Op          models.Operation
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// EstimatedCost is reserved against the budget ceiling at admission
	// and trued up to actual cost on completion.
	EstimatedCost float64
}

// Fingerprint is the cache key for this task's response.
func (t Task) Fingerprint() string {
	return cache.Fingerprint(t.Op.Type, t.Op.TemplateID, t.Model, t.Op.Params.PromptExcerpt())
}

// Outcome is the terminal result of one operation.
type Outcome struct {
	OperationID string
	Success     bool
	Content     string
	Usage       models.Usage
	Cost        float64
	Model       string
	CacheHit    bool
	// BatchID is set when the operation was admitted together with
	// others in one cycle.
	BatchID string
	Err     error

	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Wait is how long the operation sat queued before dispatch.
func (o Outcome) Wait() time.Duration {
	if o.StartedAt.IsZero() {
		return 0
	}
	return o.StartedAt.Sub(o.EnqueuedAt)
}

// Stats is an operational snapshot of the scheduler.
type Stats struct {
	HighQueued   int
	NormalQueued int
	LowQueued    int
	InFlight     int

	Completed int
	Failed    int
	CacheHits int
	// CacheHitRate is cache hits over all terminal operations.
	CacheHitRate float64

	Spend         float64
	BudgetCeiling float64

	ModelUsage     map[string]int
	PriorityCounts map[int]int
	AvgWait        time.Duration
}

type pending struct {
	task       Task
	enqueuedAt time.Time
	// batchID correlates operations admitted in the same cycle.
	batchID string
}

// resultSlot carries an operation's outcome to awaiting callers. done
// is closed exactly once, after outcome is set.
type resultSlot struct {
	done    chan struct{}
	outcome Outcome
}

// Scheduler owns the three priority queues, the dispatch pool, and the
// running spend counter. All queue and spend mutation is serialized
// behind one mutex so concurrent admissions cannot both claim the same
// budget headroom.
type Scheduler struct {
	cfg      Config
	provider provider.Provider
	cache    *cache.Cache
	logger   *slog.Logger

	sem *semaphore.Weighted

	mu       sync.Mutex
	high     []*pending
	normal   []*pending
	low      []*pending
	results  map[string]*resultSlot
	spent    float64
	reserved float64
	inFlight int
	closed   bool

	completed      int
	failed         int
	cacheHits      int
	modelUsage     map[string]int
	priorityCounts map[int]int
	totalWait      time.Duration
	dispatched     int
	cycle          int64

	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// New starts a scheduler and its admission loop.
func New(cfg Config, p provider.Provider, c *cache.Cache, logger *slog.Logger) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:            cfg,
		provider:       p,
		cache:          c,
		logger:         logger,
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		results:        make(map[string]*resultSlot),
		modelUsage:     make(map[string]int),
		priorityCounts: make(map[int]int),
		kick:           make(chan struct{}, 1),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue routes a task into a priority queue and triggers an admission
// cycle. The operation stays queued until its dependencies are met and
// its estimated cost fits under the budget ceiling.
func (s *Scheduler) Enqueue(task Task) error {
	if err := task.Op.Validate(); err != nil {
		return err
	}
	if task.Model == "" {
		return fmt.Errorf("%w: task has no model tier", models.ErrInvalidParams)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, exists := s.results[task.Op.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, task.Op.ID)
	}
	s.results[task.Op.ID] = &resultSlot{done: make(chan struct{})}

	p := &pending{task: task, enqueuedAt: time.Now()}
	switch queueFor(task.Op) {
	case 0:
		s.high = insertByPriority(s.high, p)
	case 1:
		s.normal = insertByPriority(s.normal, p)
	default:
		s.low = insertByPriority(s.low, p)
	}
	s.mu.Unlock()

	s.logger.Debug("operation queued",
		"op", task.Op.ID, "type", task.Op.Type,
		"priority", task.Op.Priority, "model", task.Model)
	s.wake()
	return nil
}

// DispatchNow bypasses the queues for urgent work. It still honors the
// budget ceiling and the concurrency bound, blocking for a free slot.
func (s *Scheduler) DispatchNow(ctx context.Context, task Task) (Outcome, error) {
	if err := task.Op.Validate(); err != nil {
		return Outcome{}, err
	}
	if task.Model == "" {
		return Outcome{}, fmt.Errorf("%w: task has no model tier", models.ErrInvalidParams)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{}, ErrClosed
	}
	if _, exists := s.results[task.Op.ID]; exists {
		s.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: %s", ErrDuplicateID, task.Op.ID)
	}
	if s.cfg.BudgetCeiling > 0 && s.spent+s.reserved+task.EstimatedCost > s.cfg.BudgetCeiling {
		s.mu.Unlock()
		return Outcome{}, ErrBudgetExhausted
	}
	slot := &resultSlot{done: make(chan struct{})}
	s.results[task.Op.ID] = slot
	s.reserved += task.EstimatedCost
	s.inFlight++
	s.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.mu.Lock()
		s.reserved -= task.EstimatedCost
		s.inFlight--
		delete(s.results, task.Op.ID)
		s.mu.Unlock()
		return Outcome{}, err
	}

	p := &pending{task: task, enqueuedAt: time.Now()}
	s.execute(p, slot)
	return slot.outcome, nil
}

// Await blocks until the operation reaches a terminal outcome, the
// context is done, or the timeout elapses.
func (s *Scheduler) Await(ctx context.Context, operationID string, timeout time.Duration) (Outcome, error) {
	s.mu.Lock()
	slot, ok := s.results[operationID]
	s.mu.Unlock()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownOperation, operationID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-slot.done:
		return slot.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-timer.C:
		return Outcome{}, fmt.Errorf("%w after %s: %s", ErrAwaitTimeout, timeout, operationID)
	}
}

// Result returns the terminal outcome if the operation has one.
func (s *Scheduler) Result(operationID string) (Outcome, bool) {
	s.mu.Lock()
	slot, ok := s.results[operationID]
	s.mu.Unlock()
	if !ok {
		return Outcome{}, false
	}
	select {
	case <-slot.done:
		return slot.outcome, true
	default:
		return Outcome{}, false
	}
}

// Cancel removes a still-queued operation. Its outcome becomes a
// canceled failure so dependents fail instead of waiting forever.
// Dispatched operations cannot be canceled.
func (s *Scheduler) Cancel(operationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.results[operationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, operationID)
	}

	for _, q := range []*[]*pending{&s.high, &s.normal, &s.low} {
		for i, p := range *q {
			if p.task.Op.ID != operationID {
				continue
			}
			*q = append((*q)[:i], (*q)[i+1:]...)
			s.finishLocked(slot, p, Outcome{
				OperationID: operationID,
				Err:         ErrCanceled,
				EnqueuedAt:  p.enqueuedAt,
				FinishedAt:  time.Now(),
			})
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotQueued, operationID)
}

// Stats snapshots queue depths, spend, and throughput counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		HighQueued:     len(s.high),
		NormalQueued:   len(s.normal),
		LowQueued:      len(s.low),
		InFlight:       s.inFlight,
		Completed:      s.completed,
		Failed:         s.failed,
		CacheHits:      s.cacheHits,
		Spend:          s.spent,
		BudgetCeiling:  s.cfg.BudgetCeiling,
		ModelUsage:     make(map[string]int, len(s.modelUsage)),
		PriorityCounts: make(map[int]int, len(s.priorityCounts)),
	}
	for k, v := range s.modelUsage {
		st.ModelUsage[k] = v
	}
	for k, v := range s.priorityCounts {
		st.PriorityCounts[k] = v
	}
	if terminal := s.completed + s.failed; terminal > 0 {
		st.CacheHitRate = float64(s.cacheHits) / float64(terminal)
	}
	if s.dispatched > 0 {
		st.AvgWait = s.totalWait / time.Duration(s.dispatched)
	}
	return st
}

// Spend returns cumulative actual spend.
func (s *Scheduler) Spend() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spent
}

// Close stops admissions, waits for in-flight operations, then cancels
// the dispatch context. Queued operations are left unresolved.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	s.cancel()
}

// queueFor implements the routing rule: immediate urgency or priority
// >= 8 goes high, low urgency or priority <= 3 goes low, the rest
// normal. Returns 0, 1, 2 for high, normal, low.
func queueFor(op models.Operation) int {
	switch {
	case op.Urgency == models.UrgencyImmediate || op.Priority >= 8:
		return 0
	case op.Urgency == models.UrgencyLow || op.Priority <= 3:
		return 2
	default:
		return 1
	}
}

// insertByPriority keeps a queue sorted by descending priority, FIFO
// within equal priority.
func insertByPriority(q []*pending, p *pending) []*pending {
	i := sort.Search(len(q), func(i int) bool {
		return q[i].task.Op.Priority < p.task.Op.Priority
	})
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = p
	return q
}

// run is the admission loop. It wakes on enqueue, completion, and a
// fixed tick that catches operations made eligible by external change.
func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.kick:
		case <-ticker.C:
		}
		s.admit()
	}
}

func (s *Scheduler) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// admit scans high, then normal, then low queues for operations whose
// dependencies all succeeded and whose estimated cost fits under the
// ceiling, dispatching as many as concurrency slots allow. Operations
// with a failed dependency fail here without dispatch. Everything else
// stays queued.
func (s *Scheduler) admit() {
	s.mu.Lock()

	var admitted []*pending
	for _, q := range []*[]*pending{&s.high, &s.normal, &s.low} {
		retained := (*q)[:0]
		for i, p := range *q {
			ready, failedDep := s.dependencyStateLocked(p.task.Op)
			if failedDep {
				slot := s.results[p.task.Op.ID]
				s.finishLocked(slot, p, Outcome{
					OperationID: p.task.Op.ID,
					Err:         fmt.Errorf("%w: operation %s", ErrDependencyFailed, p.task.Op.ID),
					EnqueuedAt:  p.enqueuedAt,
					FinishedAt:  time.Now(),
				})
				continue
			}
			if !ready || !s.affordableLocked(p.task.EstimatedCost) {
				retained = append(retained, p)
				continue
			}
			if !s.sem.TryAcquire(1) {
				retained = append(retained, (*q)[i:]...)
				break
			}

			s.reserved += p.task.EstimatedCost
			s.inFlight++
			admitted = append(admitted, p)
		}
		*q = retained
	}

	// Operations admitted in one cycle form a batch.
	if len(admitted) > 1 {
		s.cycle++
		id := fmt.Sprintf("batch-%d", s.cycle)
		for _, p := range admitted {
			p.batchID = id
		}
	}
	for _, p := range admitted {
		slot := s.results[p.task.Op.ID]
		s.wg.Add(1)
		go func(p *pending, slot *resultSlot) {
			defer s.wg.Done()
			s.execute(p, slot)
		}(p, slot)
	}
	s.mu.Unlock()
}

// dependencyStateLocked reports whether every dependency succeeded, and
// whether any terminally failed. Unknown or unfinished dependencies
// leave the operation queued.
func (s *Scheduler) dependencyStateLocked(op models.Operation) (ready, failed bool) {
	for _, dep := range op.DependsOn {
		slot, ok := s.results[dep]
		if !ok {
			return false, false
		}
		select {
		case <-slot.done:
			if !slot.outcome.Success {
				return false, true
			}
		default:
			return false, false
		}
	}
	return true, false
}

func (s *Scheduler) affordableLocked(estimate float64) bool {
	if s.cfg.BudgetCeiling <= 0 {
		return true
	}
	return s.spent+s.reserved+estimate <= s.cfg.BudgetCeiling
}

// execute resolves one dispatched task: cache first, then the provider.
// The caller must have reserved budget, counted it in flight, and
// acquired a concurrency slot.
func (s *Scheduler) execute(p *pending, slot *resultSlot) {
	task := p.task
	started := time.Now()
	out := Outcome{
		OperationID: task.Op.ID,
		Model:       task.Model,
		BatchID:     p.batchID,
		EnqueuedAt:  p.enqueuedAt,
		StartedAt:   started,
	}

	fp := task.Fingerprint()
	if entry, ok := s.cache.Lookup(fp); ok {
		out.Success = true
		out.Content = entry.Content
		out.Usage = entry.Usage
		out.CacheHit = true
		s.completeDispatched(p, slot, out)
		return
	}

	resp, err := s.provider.Generate(s.ctx, provider.Request{
		Prompt:      task.Prompt,
		Model:       task.Model,
		MaxTokens:   task.MaxTokens,
		Temperature: task.Temperature,
	})
	if err != nil {
		out.Err = err
		s.completeDispatched(p, slot, out)
		return
	}

	out.Success = true
	out.Content = resp.Content
	out.Usage = resp.Usage
	out.Cost = resp.Cost
	s.cache.Store(fp, models.CacheEntry{
		Content:  resp.Content,
		Usage:    resp.Usage,
		Cost:     resp.Cost,
		Model:    task.Model,
		OpType:   task.Op.Type,
		CallerID: task.Op.CallerID,
	}, 0)
	s.completeDispatched(p, slot, out)
}

// completeDispatched trues the budget reservation up to actual cost,
// records throughput counters, publishes the outcome, releases the
// concurrency slot, and triggers the next admission cycle.
func (s *Scheduler) completeDispatched(p *pending, slot *resultSlot, out Outcome) {
	out.FinishedAt = time.Now()

	s.mu.Lock()
	s.reserved -= p.task.EstimatedCost
	s.inFlight--
	s.spent += out.Cost
	s.dispatched++
	s.totalWait += out.StartedAt.Sub(out.EnqueuedAt)
	if out.CacheHit {
		s.cacheHits++
	}
	if out.Success {
		s.modelUsage[out.Model]++
	}
	s.finishLocked(slot, p, out)
	s.mu.Unlock()

	s.sem.Release(1)
	s.wake()

	if out.Success {
		s.logger.Debug("operation completed",
			"op", out.OperationID, "model", out.Model,
			"cost", out.Cost, "cache_hit", out.CacheHit)
	} else {
		s.logger.Warn("operation failed", "op", out.OperationID, "error", out.Err)
	}
}

// finishLocked publishes a terminal outcome exactly once.
func (s *Scheduler) finishLocked(slot *resultSlot, p *pending, out Outcome) {
	s.priorityCounts[p.task.Op.Priority]++
	if out.Success {
		s.completed++
	} else {
		s.failed++
	}
	slot.outcome = out
	close(slot.done)
}

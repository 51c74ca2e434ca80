package selector

import (
	"sync"
	"time"

	"github.com/fabula-ai/fabula/pkg/models"
)

const defaultHistorySize = 500

// PerformanceSample records one observed provider call for a tier.
// Samples feed analytics only; they never influence scoring.
type PerformanceSample struct {
	Model        string               `json:"model"`
	OpType       models.OperationType `json:"op_type"`
	QualityScore float64              `json:"quality_score"`
	Cost         float64              `json:"cost"`
	ResponseTime time.Duration        `json:"response_time"`
	Timestamp    time.Time            `json:"timestamp"`
}

// History is a bounded rolling buffer of performance samples.
type History struct {
	mu      sync.Mutex
	samples []PerformanceSample
	next    int
	full    bool
}

// NewHistory creates a History retaining at most size samples.
func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{samples: make([]PerformanceSample, size)}
}

// Record appends a sample, overwriting the oldest once full.
func (h *History) Record(sample PerformanceSample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.samples[h.next] = sample
	h.next = (h.next + 1) % len(h.samples)
	if h.next == 0 {
		h.full = true
	}
}

// Samples returns recorded samples, oldest first.
func (h *History) Samples() []PerformanceSample {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.full {
		out := make([]PerformanceSample, h.next)
		copy(out, h.samples[:h.next])
		return out
	}
	out := make([]PerformanceSample, 0, len(h.samples))
	out = append(out, h.samples[h.next:]...)
	out = append(out, h.samples[:h.next]...)
	return out
}

// AverageQuality returns the mean quality score observed for a tier,
// or 0 with no samples.
func (h *History) AverageQuality(modelID string) float64 {
	var sum float64
	var n int
	for _, s := range h.Samples() {
		if s.Model == modelID && s.QualityScore > 0 {
			sum += s.QualityScore
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Package quality scores generated content by its shape. The heuristic
// is a coarse proxy for real quality and is deliberately pluggable so a
// stronger assessor can replace it without touching the scheduler.
package quality

import (
	"encoding/json"
	"strings"

	"github.com/fabula-ai/fabula/pkg/models"
)

// Assessor scores content for an operation type on a 0-1 scale.
type Assessor interface {
	Assess(opType models.OperationType, content string) float64
}

// wordRange is the expected word-count band for an operation type.
type wordRange struct {
	min, max int
}

var expectedWords = map[models.OperationType]wordRange{
	models.OpFoundation:  {200, 2500},
	models.OpChapter:     {500, 6000},
	models.OpImprovement: {100, 4000},
	models.OpAnalysis:    {50, 2500},
	models.OpGeneral:     {20, 3000},
}

// analysisKeywords indicate substantive critique in free-form analysis.
var analysisKeywords = []string{
	"strength", "weakness", "pacing", "structure", "improve", "consistent",
}

// Heuristic assesses content by length appropriateness and structural
// indicators. It is stateless and safe for concurrent use.
type Heuristic struct{}

// NewHeuristic returns the default shape-based assessor.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Assess returns a 0-1 quality score. Empty content scores zero.
func (h *Heuristic) Assess(opType models.OperationType, content string) float64 {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0
	}

	// Machine-parseable analysis output is the preferred shape and is
	// scored ahead of any free-form prose.
	if opType == models.OpAnalysis && json.Valid([]byte(trimmed)) {
		return 0.95
	}

	score := lengthScore(opType, trimmed) + structureScore(opType, trimmed)
	if score > 1 {
		score = 1
	}
	return score
}

// lengthScore contributes up to 0.6 for word counts inside the expected
// band, degrading rather than cliffing outside it.
func lengthScore(opType models.OperationType, content string) float64 {
	band, ok := expectedWords[opType]
	if !ok {
		band = expectedWords[models.OpGeneral]
	}

	words := len(strings.Fields(content))
	switch {
	case words >= band.min && words <= band.max:
		return 0.6
	case words >= band.min/2 && words <= band.max*2:
		return 0.35
	default:
		return 0.15
	}
}

// structureScore contributes up to 0.4 from type-specific shape signals.
func structureScore(opType models.OperationType, content string) float64 {
	var score float64

	if opType == models.OpAnalysis {
		lower := strings.ToLower(content)
		for _, kw := range analysisKeywords {
			if strings.Contains(lower, kw) {
				score += 0.1
				if score >= 0.2 {
					break
				}
			}
		}
		if endsSentence(content) {
			score += 0.1
		}
		return score
	}

	if strings.Contains(content, "\n\n") {
		score += 0.2
	}
	if endsSentence(content) {
		score += 0.1
	}
	if opType == models.OpChapter && strings.ContainsAny(content, `"“`) {
		score += 0.1
	}
	return score
}

func endsSentence(content string) bool {
	trimmed := strings.TrimRight(content, " \n\t")
	return strings.HasSuffix(trimmed, ".") ||
		strings.HasSuffix(trimmed, "!") ||
		strings.HasSuffix(trimmed, "?")
}

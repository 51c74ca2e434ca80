package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fabula-ai/fabula/pkg/models"
	"github.com/fabula-ai/fabula/pkg/selector"
)

// Scripted is an in-memory provider for tests and the demo command. It
// synthesizes deterministic content and meters cost from the registry's
// pricing. Failures can be scripted per call.
type Scripted struct {
	registry *selector.Registry

	mu      sync.Mutex
	scripts []error // consumed in order before succeeding

	calls atomic.Int64
}

// NewScripted creates a Scripted provider priced by the registry.
func NewScripted(registry *selector.Registry) *Scripted {
	return &Scripted{registry: registry}
}

// FailWith queues errors to be returned by the next calls, in order.
func (s *Scripted) FailWith(errs ...error) {
	s.mu.Lock()
	s.scripts = append(s.scripts, errs...)
	s.mu.Unlock()
}

// Calls returns how many times Generate ran.
func (s *Scripted) Calls() int64 { return s.calls.Load() }

// Generate synthesizes a response sized from the prompt.
func (s *Scripted) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	s.calls.Add(1)

	s.mu.Lock()
	if len(s.scripts) > 0 {
		err := s.scripts[0]
		s.scripts = s.scripts[1:]
		s.mu.Unlock()
		if err != nil {
			return Response{}, err
		}
	} else {
		s.mu.Unlock()
	}

	profile, ok := s.registry.Get(req.Model)
	if !ok {
		return Response{}, NewError(KindBadRequest, "unknown model %q", req.Model)
	}

	inputTokens := len(strings.Fields(req.Prompt)) * 4 / 3
	if inputTokens < 1 {
		inputTokens = 1
	}
	outputTokens := req.MaxTokens
	if outputTokens <= 0 {
		outputTokens = 400
	}

	usage := models.Usage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
	}
	return Response{
		Content: fmt.Sprintf("[%s] %s", profile.Name, synthesize(req.Prompt, outputTokens)),
		Usage:   usage,
		Cost:    profile.EstimateCost(inputTokens, outputTokens),
		Model:   req.Model,
	}, nil
}

// synthesize repeats prompt words to roughly the requested token count.
func synthesize(prompt string, tokens int) string {
	words := strings.Fields(prompt)
	if len(words) == 0 {
		words = []string{"untitled"}
	}
	var b strings.Builder
	for i := 0; i < tokens*3/4; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(words[i%len(words)])
	}
	return b.String()
}

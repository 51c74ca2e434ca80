// Package selector scores model tiers against task profiles and returns
// ranked recommendations. Selection is pure computation over the static
// registry; it never calls the provider.
package selector

import (
	"sort"

	"github.com/fabula-ai/fabula/pkg/models"
)

// Capability tags used in model best-for / worst-for lists.
const (
	TagCreativeWriting  = "creative-writing"
	TagLongForm         = "long-form"
	TagStructuredOutput = "structured-output"
	TagAnalysis         = "analysis"
	TagEditing          = "editing"
	TagShortForm        = "short-form"
	TagDialogue         = "dialogue"
	TagFastDrafts       = "fast-drafts"
)

// taskTypeTags maps each operation type to the capability tags a
// well-suited model is expected to carry.
var taskTypeTags = map[models.OperationType][]string{
	models.OpFoundation:  {TagCreativeWriting, TagLongForm, TagStructuredOutput},
	models.OpChapter:     {TagCreativeWriting, TagLongForm, TagDialogue},
	models.OpImprovement: {TagEditing, TagCreativeWriting},
	models.OpAnalysis:    {TagAnalysis, TagStructuredOutput},
	models.OpGeneral:     {TagShortForm},
}

// DefaultProfiles returns the built-in model tier registry.
func DefaultProfiles() []models.ModelProfile {
	return []models.ModelProfile{
		{
			Name: "Quill Flash", ID: "quill-flash-1",
			InputCostPer1K: 0.0003, OutputCostPer1K: 0.0006,
			MaxContext: 16000,
			Reasoning:  4, Creativity: 4, Speed: 9, CostEfficiency: 10,
			BestFor:  []string{TagShortForm, TagFastDrafts, TagEditing, TagAnalysis},
			WorstFor: []string{TagLongForm},
		},
		{
			Name: "Quill Standard", ID: "quill-standard-1",
			InputCostPer1K: 0.003, OutputCostPer1K: 0.006,
			MaxContext: 32000,
			Reasoning:  6, Creativity: 6, Speed: 7, CostEfficiency: 7,
			BestFor: []string{TagShortForm, TagEditing, TagDialogue, TagAnalysis},
		},
		{
			Name: "Quill Pro", ID: "quill-pro-1",
			InputCostPer1K: 0.01, OutputCostPer1K: 0.03,
			MaxContext: 128000,
			Reasoning:  8, Creativity: 9, Speed: 5, CostEfficiency: 4,
			BestFor:  []string{TagCreativeWriting, TagLongForm, TagDialogue, TagStructuredOutput},
			WorstFor: []string{TagFastDrafts},
		},
		{
			Name: "Quill Max", ID: "quill-max-1",
			InputCostPer1K: 0.015, OutputCostPer1K: 0.075,
			MaxContext: 200000,
			Reasoning:  10, Creativity: 9, Speed: 3, CostEfficiency: 2,
			BestFor:  []string{TagCreativeWriting, TagLongForm, TagStructuredOutput, TagAnalysis},
			WorstFor: []string{TagShortForm, TagFastDrafts},
		},
	}
}

// Registry holds the immutable set of known model tiers.
type Registry struct {
	profiles map[string]models.ModelProfile
	order    []string
}

// NewRegistry creates a Registry. With no profiles the built-in defaults
// are used.
func NewRegistry(profiles []models.ModelProfile) *Registry {
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	r := &Registry{profiles: make(map[string]models.ModelProfile, len(profiles))}
	for _, p := range profiles {
		if _, seen := r.profiles[p.ID]; !seen {
			r.order = append(r.order, p.ID)
		}
		r.profiles[p.ID] = p
	}
	return r
}

// Get returns a profile by provider-side identifier.
func (r *Registry) Get(id string) (models.ModelProfile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// List returns all profiles in registration order.
func (r *Registry) List() []models.ModelProfile {
	out := make([]models.ModelProfile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.profiles[id])
	}
	return out
}

// Cheapest returns the profile with the lowest expected cost for the
// given token counts.
func (r *Registry) Cheapest(inputTokens, outputTokens int) models.ModelProfile {
	profiles := r.List()
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].EstimateCost(inputTokens, outputTokens) <
			profiles[j].EstimateCost(inputTokens, outputTokens)
	})
	return profiles[0]
}

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OperationType classifies a unit of schedulable generation work.
type OperationType string

const (
	OpFoundation  OperationType = "foundation"
	OpChapter     OperationType = "chapter"
	OpImprovement OperationType = "improvement"
	OpAnalysis    OperationType = "analysis"
	OpGeneral     OperationType = "general"
)

// AllOperationTypes returns every known operation type.
func AllOperationTypes() []OperationType {
	return []OperationType{OpFoundation, OpChapter, OpImprovement, OpAnalysis, OpGeneral}
}

// Urgency controls queue routing for an operation.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyNormal    Urgency = "normal"
	UrgencyLow       Urgency = "low"
)

// ErrInvalidParams is returned when operation parameters fail validation.
var ErrInvalidParams = errors.New("invalid operation parameters")

// OperationParams carries the type-specific inputs of an operation.
// Each operation type has its own variant so malformed submissions are
// caught before any provider call.
type OperationParams interface {
	// Kind returns the operation type this variant belongs to.
	Kind() OperationType
	// PromptExcerpt returns the prompt-relevant text used for
	// fingerprinting and provider calls.
	PromptExcerpt() string
	// Validate rejects empty or malformed parameters.
	Validate() error
}

// FoundationParams describes a generate-foundation operation.
type FoundationParams struct {
	Premise string   `json:"premise" yaml:"premise"`
	Genre   string   `json:"genre" yaml:"genre"`
	Themes  []string `json:"themes,omitempty" yaml:"themes,omitempty"`
}

func (p FoundationParams) Kind() OperationType { return OpFoundation }

func (p FoundationParams) PromptExcerpt() string {
	return p.Premise + " " + p.Genre + " " + strings.Join(p.Themes, " ")
}

func (p FoundationParams) Validate() error {
	if strings.TrimSpace(p.Premise) == "" {
		return fmt.Errorf("%w: foundation premise is empty", ErrInvalidParams)
	}
	return nil
}

// ChapterParams describes a generate-chapter operation.
type ChapterParams struct {
	FoundationID  string `json:"foundation_id" yaml:"foundation_id"`
	ChapterNumber int    `json:"chapter_number" yaml:"chapter_number"`
	Outline       string `json:"outline" yaml:"outline"`
	TargetWords   int    `json:"target_words,omitempty" yaml:"target_words,omitempty"`
}

func (p ChapterParams) Kind() OperationType { return OpChapter }

func (p ChapterParams) PromptExcerpt() string {
	return fmt.Sprintf("%s ch%d %s", p.FoundationID, p.ChapterNumber, p.Outline)
}

func (p ChapterParams) Validate() error {
	if strings.TrimSpace(p.Outline) == "" {
		return fmt.Errorf("%w: chapter outline is empty", ErrInvalidParams)
	}
	if p.ChapterNumber < 1 {
		return fmt.Errorf("%w: chapter number must be >= 1", ErrInvalidParams)
	}
	return nil
}

// ImprovementParams describes an improve-content operation.
type ImprovementParams struct {
	Content string `json:"content" yaml:"content"`
	Focus   string `json:"focus,omitempty" yaml:"focus,omitempty"`
}

func (p ImprovementParams) Kind() OperationType { return OpImprovement }

func (p ImprovementParams) PromptExcerpt() string { return p.Focus + " " + p.Content }

func (p ImprovementParams) Validate() error {
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("%w: improvement content is empty", ErrInvalidParams)
	}
	return nil
}

// AnalysisParams describes an analyze-content operation.
type AnalysisParams struct {
	Content string   `json:"content" yaml:"content"`
	Aspects []string `json:"aspects,omitempty" yaml:"aspects,omitempty"`
}

func (p AnalysisParams) Kind() OperationType { return OpAnalysis }

func (p AnalysisParams) PromptExcerpt() string {
	return strings.Join(p.Aspects, " ") + " " + p.Content
}

func (p AnalysisParams) Validate() error {
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("%w: analysis content is empty", ErrInvalidParams)
	}
	return nil
}

// GeneralParams describes a generic generation operation.
type GeneralParams struct {
	Prompt    string `json:"prompt" yaml:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

func (p GeneralParams) Kind() OperationType { return OpGeneral }

func (p GeneralParams) PromptExcerpt() string { return p.Prompt }

func (p GeneralParams) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("%w: prompt is empty", ErrInvalidParams)
	}
	return nil
}

// Operation is a unit of schedulable generation work. It is owned by the
// scheduler from enqueue until a terminal outcome and is immutable once
// enqueued except for its queue membership.
type Operation struct {
	ID         string          `json:"id"`
	Type       OperationType   `json:"type"`
	Params     OperationParams `json:"-"`
	Priority   int             `json:"priority"` // 1-10
	Urgency    Urgency         `json:"urgency"`
	CallerID   string          `json:"caller_id"`
	TemplateID string          `json:"template_id,omitempty"`

	// CostCeiling caps this operation's spend (0 = none).
	CostCeiling float64 `json:"cost_ceiling,omitempty"`

	// Deadline is informational only; the scheduler never times out
	// operations on its own.
	Deadline time.Time `json:"deadline,omitempty"`

	// DependsOn lists operation IDs that must complete successfully
	// before this one may be dispatched.
	DependsOn []string `json:"depends_on,omitempty"`

	// ModelOverride pins the model tier, bypassing selection.
	ModelOverride string `json:"model_override,omitempty"`

	// Estimated token counts used for admission-time cost estimates.
	EstInputTokens  int `json:"est_input_tokens,omitempty"`
	EstOutputTokens int `json:"est_output_tokens,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the operation for submission errors.
func (o *Operation) Validate() error {
	if o.Params == nil {
		return fmt.Errorf("%w: missing parameters", ErrInvalidParams)
	}
	if o.Params.Kind() != o.Type {
		return fmt.Errorf("%w: parameter kind %s does not match operation type %s",
			ErrInvalidParams, o.Params.Kind(), o.Type)
	}
	if o.Priority < 1 || o.Priority > 10 {
		return fmt.Errorf("%w: priority %d out of range 1-10", ErrInvalidParams, o.Priority)
	}
	return o.Params.Validate()
}

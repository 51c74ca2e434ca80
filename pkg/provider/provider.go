// Package provider defines the boundary to the generative content
// provider. The engine treats it as an opaque, metered dependency: only
// its cost, latency, and error contract matter here.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabula-ai/fabula/pkg/models"
)

// Request is one generation call.
type Request struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Response is the metered outcome of a generation call.
type Response struct {
	Content string       `json:"content"`
	Usage   models.Usage `json:"usage"`
	Cost    float64      `json:"cost"`
	Model   string       `json:"model"`
}

// Provider generates content for a prompt on a specific model tier.
type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	// Retryable kinds.
	KindRateLimited ErrorKind = "rate_limited"
	KindServerError ErrorKind = "server_error"

	// Permanent kinds.
	KindAuthFailed    ErrorKind = "auth_failed"
	KindBadRequest    ErrorKind = "bad_request"
	KindUnprocessable ErrorKind = "unprocessable"
)

// Error is a classified provider failure.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Msg)
}

// NewError creates a classified provider error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsRetryable reports whether the error is a transient provider failure
// worth retrying. Validation and auth failures are permanent.
func IsRetryable(err error) bool {
	var perr *Error
	if !errors.As(err, &perr) {
		return false
	}
	return perr.Kind == KindRateLimited || perr.Kind == KindServerError
}

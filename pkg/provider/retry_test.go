package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fabula-ai/fabula/pkg/selector"
)

func newScripted(t *testing.T) *Scripted {
	t.Helper()
	return NewScripted(selector.NewRegistry(nil))
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewError(KindRateLimited, "slow down")) {
		t.Error("rate limit should be retryable")
	}
	if !IsRetryable(NewError(KindServerError, "boom")) {
		t.Error("server error should be retryable")
	}
	if IsRetryable(NewError(KindAuthFailed, "bad key")) {
		t.Error("auth failure should not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("unclassified errors should not be retryable")
	}
}

func TestRetryRecoversFromTransientErrors(t *testing.T) {
	s := newScripted(t)
	s.FailWith(NewError(KindRateLimited, "limited"), NewError(KindServerError, "oops"))

	p := WithRetry(s, RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond})

	resp, err := p.Generate(context.Background(), Request{
		Prompt: "a quiet harbor town", Model: "quill-flash-1", MaxTokens: 50,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Cost <= 0 {
		t.Error("expected metered cost")
	}
	if s.Calls() != 3 {
		t.Errorf("expected 3 attempts, got %d", s.Calls())
	}
}

func TestRetryFailsFastOnPermanentErrors(t *testing.T) {
	s := newScripted(t)
	s.FailWith(NewError(KindAuthFailed, "bad key"))

	p := WithRetry(s, RetryConfig{MaxRetries: 5, InitialInterval: time.Millisecond})

	_, err := p.Generate(context.Background(), Request{Prompt: "x", Model: "quill-flash-1"})
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindAuthFailed {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if s.Calls() != 1 {
		t.Errorf("expected no retries, got %d attempts", s.Calls())
	}
}

func TestRetryGivesUpAfterBoundedAttempts(t *testing.T) {
	s := newScripted(t)
	s.FailWith(
		NewError(KindServerError, "1"),
		NewError(KindServerError, "2"),
		NewError(KindServerError, "3"),
	)

	p := WithRetry(s, RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond})

	if _, err := p.Generate(context.Background(), Request{Prompt: "x", Model: "quill-flash-1"}); err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if s.Calls() != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", s.Calls())
	}
}

func TestScriptedUnknownModel(t *testing.T) {
	s := newScripted(t)
	_, err := s.Generate(context.Background(), Request{Prompt: "x", Model: "nope"})
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindBadRequest {
		t.Fatalf("expected bad request, got %v", err)
	}
}

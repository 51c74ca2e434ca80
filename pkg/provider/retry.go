package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the retry loop around provider calls.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first (default 3).
	MaxRetries int
	// InitialInterval seeds the exponential backoff (default 500ms).
	InitialInterval time.Duration
}

// retrying wraps a Provider with bounded exponential backoff. Only
// transient failures (rate limit, 5xx) are retried; everything else
// fails fast.
type retrying struct {
	inner Provider
	cfg   RetryConfig
}

// WithRetry wraps a provider with the retry policy.
func WithRetry(p Provider, cfg RetryConfig) Provider {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	return &retrying{inner: p, cfg: cfg}
}

func (r *retrying) Generate(ctx context.Context, req Request) (Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialInterval

	var resp Response
	op := func() error {
		var err error
		resp, err = r.inner.Generate(ctx, req)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(r.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return Response{}, err
	}
	return resp, nil
}

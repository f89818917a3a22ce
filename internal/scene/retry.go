package scene

import (
	"context"
	"time"

	"scene-gen/internal/common/apperr"

	"github.com/cenkalti/backoff/v5"
)

// ============================================================
// Retry Policy
// ============================================================

// RetryPolicy ограничивает повторы для чтений и сохранения трансформаций.
// Повторяются только транспортные ошибки.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        4,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     3 * time.Second,
	}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

func retry[T any](ctx context.Context, p RetryPolicy, fn func() (T, error), notify backoff.Notify) (T, error) {
	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(tries),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !apperr.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}

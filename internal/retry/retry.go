// Package retry wraps upstream calls (label purchase, hold capture/cancel)
// in bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultPolicy(maxRetries int) Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return Policy{
		MaxRetries:      uint64(maxRetries),
		InitialInterval: 300 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Permanent marks err as not worth retrying (4xx, validation, decline).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the context is
// done, or MaxRetries retries have been spent. The returned error is the
// last one op produced, unwrapped from any Permanent marker.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
	err := backoff.Retry(func() error { return op(ctx) }, b)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

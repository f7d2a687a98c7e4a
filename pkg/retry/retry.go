// Package retry runs an operation again after transient failures, waiting on
// an exponential schedule bounded by a total time budget.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Default schedule values.
const (
	DefaultInitialInterval     = time.Second
	DefaultMaxInterval         = 60 * time.Second
	DefaultMultiplier          = 2.0
	DefaultRandomizationFactor = 0.5
	DefaultMaxElapsedTime      = 60 * time.Second
)

// Policy describes the backoff schedule and where retry notices go.
type Policy struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	// MaxElapsedTime bounds the total time spent from the first attempt.
	// Zero selects DefaultMaxElapsedTime.
	MaxElapsedTime time.Duration
	// Notify receives one human-readable notice per retry. May be nil.
	Notify func(msg string)
}

// DefaultPolicy returns the standard schedule: one second doubling, sixty
// seconds in total.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval:     DefaultInitialInterval,
		MaxInterval:         DefaultMaxInterval,
		Multiplier:          DefaultMultiplier,
		RandomizationFactor: DefaultRandomizationFactor,
		MaxElapsedTime:      DefaultMaxElapsedTime,
	}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.RandomizationFactor
	return b
}

// Notice formats the message sent to Policy.Notify before a retry.
func Notice(err error, wait time.Duration) string {
	return fmt.Sprintf("%v\nRetry in %.1f seconds.", err, wait.Seconds())
}

// Do calls op until it succeeds, returns an error for which retryable is
// false, or the time budget runs out. In the last two cases the error from
// the final attempt is returned unchanged.
func Do[T any](ctx context.Context, p Policy, retryable func(error) bool, op func() (T, error)) (T, error) {
	budget := p.MaxElapsedTime
	if budget <= 0 {
		budget = DefaultMaxElapsedTime
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxElapsedTime(budget),
	}
	if p.Notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			p.Notify(Notice(err, wait))
		}))
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}

// Package retry wraps calls to external services with bounded,
// exponentially backed-off retries and a per-attempt timeout.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	retrygo "github.com/avast/retry-go/v4"

	"storyloom/internal/config"
	"storyloom/internal/services"
)

// Policy bounds a retried call.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts     uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// CallTimeout bounds each attempt. Zero leaves attempts unbounded.
	CallTimeout time.Duration
}

// FromConfig builds a Policy from the [retry] section.
func FromConfig(cfg config.Retry) Policy {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return Policy{
		Attempts:     uint(attempts),
		InitialDelay: time.Duration(cfg.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.MaxDelayMS) * time.Millisecond,
		CallTimeout:  time.Duration(cfg.CallTimeoutSeconds) * time.Second,
	}
}

// Classifier reports whether err is worth another attempt.
type Classifier func(error) bool

// RetryAfterer is implemented by errors that carry a server-requested delay.
type RetryAfterer interface {
	RetryAfterDelay() time.Duration
}

// IsTransient is the default classifier: errors marked transient or timed out.
func IsTransient(err error) bool {
	return errors.Is(err, services.ErrTransient) || errors.Is(err, services.ErrTimeout)
}

// Option customizes a single Do call.
type Option func(*options)

type options struct {
	classify Classifier
	onRetry  func(attempt uint, err error)
}

// WithClassifier replaces IsTransient for this call.
func WithClassifier(fn Classifier) Option {
	return func(o *options) {
		if fn != nil {
			o.classify = fn
		}
	}
}

// OnRetry registers a callback invoked after each retryable failure with the
// 1-based attempt number.
func OnRetry(fn func(attempt uint, err error)) Option {
	return func(o *options) { o.onRetry = fn }
}

// Do calls op until it succeeds, returns a non-retryable error, the attempt
// budget is spent, or ctx ends. The returned error is the last attempt's.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{classify: IsTransient}
	for _, opt := range opts {
		opt(&o)
	}
	if policy.Attempts == 0 {
		policy.Attempts = 1
	}

	attempt := func() (T, error) {
		callCtx := ctx
		if policy.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, policy.CallTimeout)
			defer cancel()
		}
		value, err := op(callCtx)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: call exceeded %s: %w", services.ErrTimeout, policy.CallTimeout, err)
		}
		return value, err
	}

	retryOpts := []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(policy.Attempts),
		retrygo.Delay(policy.InitialDelay),
		retrygo.MaxDelay(policy.MaxDelay),
		retrygo.MaxJitter(maxJitter(policy)),
		retrygo.DelayType(delayFor),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(func(err error) bool {
			return ctx.Err() == nil && o.classify(err)
		}),
	}
	if o.onRetry != nil {
		retryOpts = append(retryOpts, retrygo.OnRetry(func(n uint, err error) {
			o.onRetry(n+1, err)
		}))
	}
	return retrygo.DoWithData(attempt, retryOpts...)
}

// delayFor honors a server-provided Retry-After before falling back to
// exponential backoff with jitter.
func delayFor(n uint, err error, cfg *retrygo.Config) time.Duration {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		if d := ra.RetryAfterDelay(); d > 0 {
			return d
		}
	}
	return retrygo.CombineDelay(retrygo.BackOffDelay, retrygo.RandomDelay)(n, err, cfg)
}

func maxJitter(policy Policy) time.Duration {
	if policy.InitialDelay > 0 {
		return policy.InitialDelay
	}
	return time.Millisecond
}

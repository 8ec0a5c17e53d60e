// Package retry runs an operation with bounded exponential backoff.
//
// A Policy describes how many attempts are made and how the wait between them
// grows: the first wait is InitialDelay, each following wait is multiplied by
// Factor and capped at MaxDelay. With the default policy the sequence is
//
//	attempt, wait 1s, attempt, wait 2s, attempt
//
// Only failures the caller classifies as transient are retried. A permanent
// failure, or the failure of the last attempt, is returned to the caller as
// is. Waiting only blocks the calling goroutine and is cut short when the
// context is canceled.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures retries for one operation.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

// DefaultPolicy returns 3 attempts, 1s initial delay, 3s cap and factor 2.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     3 * time.Second,
		Factor:       2.0,
	}
}

// Once is a policy that makes a single attempt.
func Once() Policy {
	return Policy{MaxAttempts: 1}
}

// Validate checks the policy for values that cannot produce a schedule.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.MaxAttempts == 1 {
		return nil
	}
	if p.InitialDelay <= 0 {
		return errors.New("initial delay must be > 0")
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("max delay (%v) < initial delay (%v)", p.MaxDelay, p.InitialDelay)
	}
	if p.Factor < 1 {
		return fmt.Errorf("factor must be >= 1, got %v", p.Factor)
	}
	return nil
}

// Delays returns the waits the policy inserts between attempts.
func (p Policy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	b := p.backOff()
	b.Reset()
	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	for i := 1; i < p.MaxAttempts; i++ {
		delays = append(delays, b.NextBackOff())
	}
	return delays
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Factor
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return b
}

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// Notify is called before each wait with the attempt that just failed
// (starting at 1), its error, and the upcoming delay.
type Notify func(attempt int, err error, wait time.Duration)

// Timer is the wait primitive used between attempts.
type Timer = backoff.Timer

type options struct {
	timer  Timer
	notify Notify
}

// Option customizes a single Do call.
type Option func(*options)

// WithTimer replaces the wall-clock timer. Tests use it to record delays
// without sleeping.
func WithTimer(t Timer) Option {
	return func(o *options) { o.timer = t }
}

// WithNotify registers a hook called before each retry wait.
func WithNotify(fn Notify) Option {
	return func(o *options) { o.notify = fn }
}

// Do runs op until it succeeds, fails permanently, or the policy runs out of
// attempts. A nil classifier treats every error as permanent.
func Do(ctx context.Context, p Policy, isTransient Classifier, op func(ctx context.Context) error, opts ...Option) error {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var schedule backoff.BackOff = backoff.WithMaxRetries(p.backOff(), uint64(p.MaxAttempts-1))
	schedule = backoff.WithContext(schedule, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if isTransient == nil || !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if o.notify != nil {
		notify = func(err error, wait time.Duration) {
			o.notify(attempt, err, wait)
		}
	}

	return backoff.RetryNotifyWithTimer(operation, schedule, notify, o.timer)
}

// DoValue is Do for operations that produce a value. On failure the zero
// value is returned with the error.
func DoValue[T any](ctx context.Context, p Policy, isTransient Classifier, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var result T
	err := Do(ctx, p, isTransient, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

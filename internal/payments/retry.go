package payments

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/wolfman30/bookingcore/pkg/logging"
)

// RetryPolicy bounds the exponential backoff applied to processor calls.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns 4 attempts, 200ms base, 5s cap, 10s per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Retrier runs processor calls with jittered exponential backoff. Only
// transient failures are retried.
type Retrier struct {
	policy  RetryPolicy
	logger  *logging.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func() float64
	observe func(op, result string)
}

func NewRetrier(policy RetryPolicy, logger *logging.Logger) *Retrier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Retrier{
		policy: policy.normalized(),
		logger: logger,
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
}

// WithObserver registers a callback for each attempt outcome.
func (r *Retrier) WithObserver(fn func(op, result string)) *Retrier {
	r.observe = fn
	return r
}

// Do invokes fn until it succeeds, fails permanently, or attempts run out.
// Failures are returned as *CallError.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := r.attempt(ctx, fn)
		if err == nil {
			r.record(op, "ok")
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			r.record(op, "canceled")
			return &CallError{Op: op, Transient: false, Attempts: attempt, Err: errors.Join(err, ctx.Err())}
		}
		if !isTransient(err) {
			r.record(op, "permanent")
			return &CallError{Op: op, Transient: false, Attempts: attempt, Err: err}
		}
		r.record(op, "transient")
		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.backoff(attempt)
		r.logger.Warn("payment processor call failed, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return &CallError{Op: op, Transient: false, Attempts: attempt, Err: errors.Join(lastErr, err)}
		}
	}
	return &CallError{Op: op, Transient: true, Attempts: r.policy.MaxAttempts, Err: lastErr}
}

func (r *Retrier) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.policy.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

// backoff returns base*2^(attempt-1) capped at MaxDelay, with the upper half jittered.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := r.policy.BaseDelay
	for i := 1; i < attempt && d < r.policy.MaxDelay; i++ {
		d *= 2
	}
	if d > r.policy.MaxDelay {
		d = r.policy.MaxDelay
	}
	half := d / 2
	return half + time.Duration(r.jitter()*float64(d-half))
}

func (r *Retrier) record(op, result string) {
	if r.observe != nil {
		r.observe(op, result)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

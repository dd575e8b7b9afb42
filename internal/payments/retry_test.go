package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"
)

func newTestRetrier(policy RetryPolicy) (*Retrier, *[]time.Duration) {
	var delays []time.Duration
	r := NewRetrier(policy, nil)
	r.jitter = func() float64 { return 1 }
	r.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return r, &delays
}

func TestRetrierRetriesTransientThenSucceeds(t *testing.T) {
	r, delays := newTestRetrier(RetryPolicy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second})
	calls := 0
	err := r.Do(context.Background(), "create_session", func(context.Context) error {
		calls++
		if calls < 3 {
			return &stripe.Error{HTTPStatusCode: http.StatusServiceUnavailable, Type: stripe.ErrorTypeAPI}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, *delays)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Fatalf("delay %d: expected %s, got %s", i, want[i], (*delays)[i])
		}
	}
}

func TestRetrierDoesNotRetryPermanent(t *testing.T) {
	r, delays := newTestRetrier(DefaultRetryPolicy())
	calls := 0
	err := r.Do(context.Background(), "issue_refund", func(context.Context) error {
		calls++
		return &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Type: stripe.ErrorTypeInvalidRequest, Code: stripe.ErrorCodeChargeAlreadyRefunded}
	})
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if callErr.Transient || IsTransient(err) {
		t.Fatalf("expected permanent classification")
	}
	if calls != 1 || len(*delays) != 0 {
		t.Fatalf("expected single call without sleeps, got calls=%d delays=%v", calls, *delays)
	}
}

func TestRetrierExhaustsTransient(t *testing.T) {
	r, delays := newTestRetrier(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 1500 * time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), "get_session", func(context.Context) error {
		calls++
		return &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}
	})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if (*delays)[1] != 1500*time.Millisecond {
		t.Fatalf("expected capped delay, got %v", *delays)
	}
}

func TestRetrierStopsOnCallerCancel(t *testing.T) {
	r, _ := newTestRetrier(DefaultRetryPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, "create_session", func(context.Context) error {
		calls++
		cancel()
		return MarkTransient(errors.New("connection reset"))
	})
	if IsTransient(err) {
		t.Fatalf("caller cancellation must be permanent, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetrierAttemptTimeoutIsTransient(t *testing.T) {
	r, _ := newTestRetrier(RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, AttemptTimeout: 5 * time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), "get_session", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	if !IsTransient(err) || calls != 2 {
		t.Fatalf("expected transient after 2 attempts, got calls=%d err=%v", calls, err)
	}
}

func TestIsTransientClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &stripe.Error{HTTPStatusCode: 502}, true},
		{"rate limited", &stripe.Error{HTTPStatusCode: 429, Type: stripe.ErrorTypeInvalidRequest}, true},
		{"api error type", &stripe.Error{Type: stripe.ErrorTypeAPI}, true},
		{"card error", &stripe.Error{HTTPStatusCode: 402, Type: stripe.ErrorTypeCard}, false},
		{"idempotency", &stripe.Error{HTTPStatusCode: 400, Type: stripe.ErrorTypeIdempotency}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"marked", MarkTransient(errors.New("flaky")), true},
		{"plain", errors.New("nope"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isTransient(tc.err); got != tc.want {
				t.Fatalf("isTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

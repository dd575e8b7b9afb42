package reservations

import (
	"strings"
	"time"
)

var defaultImmediateMethods = []string{"card", "link", "apple_pay", "google_pay"}

// DefaultDelayedMethods settle asynchronously, often days after checkout.
var DefaultDelayedMethods = []string{"oxxo", "boleto", "konbini", "customer_balance", "sepa_debit", "us_bank_account", "bacs_debit"}

// TTLPolicy picks how long a hold lives based on the payment methods offered.
// A checkout that offers any delayed or unrecognized method gets the long TTL,
// because the payer may choose it and settle days later.
type TTLPolicy struct {
	Immediate time.Duration
	Delayed   time.Duration
	immediate map[string]struct{}
	delayed   map[string]struct{}
}

func NewTTLPolicy(immediate, delayed time.Duration, delayedMethods []string) TTLPolicy {
	if immediate <= 0 {
		immediate = 30 * time.Minute
	}
	if delayed < immediate {
		delayed = 7 * 24 * time.Hour
	}
	if len(delayedMethods) == 0 {
		delayedMethods = DefaultDelayedMethods
	}
	p := TTLPolicy{
		Immediate: immediate,
		Delayed:   delayed,
		immediate: make(map[string]struct{}, len(defaultImmediateMethods)),
		delayed:   make(map[string]struct{}, len(delayedMethods)),
	}
	for _, m := range defaultImmediateMethods {
		p.immediate[m] = struct{}{}
	}
	for _, m := range delayedMethods {
		m = strings.ToLower(strings.TrimSpace(m))
		p.delayed[m] = struct{}{}
		delete(p.immediate, m)
	}
	return p
}

// For returns the hold TTL and payment path for a set of methods. An empty
// set means card only.
func (p TTLPolicy) For(methods []string) (time.Duration, PaymentPath) {
	for _, m := range methods {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		if _, ok := p.immediate[m]; !ok {
			return p.Delayed, PathDelayed
		}
	}
	return p.Immediate, PathImmediate
}

// Package refunds decides and executes refunds for payments whose
// reservation could not become a booking.
package refunds

import (
	"github.com/wolfman30/bookingcore/internal/conflicts"
)

// Decide returns the refund percentage for a conflict kind. Every conflict
// returns the full amount; a clean check returns nothing.
func Decide(kind conflicts.Kind) int {
	if kind == conflicts.KindNone || kind == "" {
		return 0
	}
	return 100
}

// Amount applies pct to total, rounding down to whole cents.
func Amount(total int64, pct int) int64 {
	switch {
	case total <= 0 || pct <= 0:
		return 0
	case pct >= 100:
		return total
	default:
		return total * int64(pct) / 100
	}
}

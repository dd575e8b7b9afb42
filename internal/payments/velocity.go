package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/bookingcore/pkg/logging"
)

// VelocityChecker limits checkout attempts per holder contact to blunt slot
// squatting and card testing.
type VelocityChecker struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

// VelocityConfig contains velocity check configuration.
type VelocityConfig struct {
	MaxCheckoutsPerContact int
	CheckoutWindow         time.Duration
	Enabled                bool
}

// DefaultVelocityConfig returns default velocity limits.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		MaxCheckoutsPerContact: 5,
		CheckoutWindow:         time.Hour,
		Enabled:                true,
	}
}

// VelocityResult contains the result of a velocity check.
type VelocityResult struct {
	Allowed      bool
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	Message      string
}

// NewVelocityChecker creates a new velocity checker. A nil client disables it.
func NewVelocityChecker(redisClient *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	return &VelocityChecker{
		redis:  redisClient,
		logger: logger,
		config: config,
	}
}

// CheckCheckout counts one checkout attempt for contact and reports whether
// it is within limits. Redis failures fail open.
func (v *VelocityChecker) CheckCheckout(ctx context.Context, contact string) (*VelocityResult, error) {
	ctx, span := stripeTracer.Start(ctx, "velocity.check_checkout")
	defer span.End()
	span.SetAttributes(attribute.String("velocity.check_type", "checkout"))

	if v == nil || v.redis == nil || !v.config.Enabled {
		return &VelocityResult{Allowed: true}, nil
	}

	key := checkoutKey(contact)
	count, expiry, err := v.incrementAndGet(ctx, key, v.config.CheckoutWindow)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		return &VelocityResult{Allowed: true, Message: "velocity check unavailable"}, nil
	}

	result := &VelocityResult{
		Allowed:      count <= v.config.MaxCheckoutsPerContact,
		CurrentCount: count,
		MaxAllowed:   v.config.MaxCheckoutsPerContact,
		WindowExpiry: expiry,
	}
	if !result.Allowed {
		result.Message = fmt.Sprintf("exceeded %d checkout attempts in %s", v.config.MaxCheckoutsPerContact, v.config.CheckoutWindow)
		v.logger.Warn("checkout velocity exceeded",
			"contact", contact,
			"count", count,
			"max", v.config.MaxCheckoutsPerContact,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}
	return result, nil
}

// ResetCheckout clears the counter for contact (admin use).
func (v *VelocityChecker) ResetCheckout(ctx context.Context, contact string) error {
	if v == nil || v.redis == nil {
		return nil
	}
	return v.redis.Del(ctx, checkoutKey(contact)).Err()
}

// incrementAndGet increments a counter and returns the new value with expiry time.
func (v *VelocityChecker) incrementAndGet(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if count == 1 {
		v.redis.Expire(ctx, key, window)
	}
	ttl, err := v.redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return int(count), time.Now().Add(ttl), nil
}

func checkoutKey(contact string) string {
	return "velocity:checkout:" + strings.ToLower(strings.TrimSpace(contact))
}

package payments

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestVelocityChecker_CheckCheckout(t *testing.T) {
	redisClient, _ := setupTestRedis(t)
	config := DefaultVelocityConfig()
	config.MaxCheckoutsPerContact = 3

	checker := NewVelocityChecker(redisClient, config, nil)
	ctx := context.Background()

	tests := []struct {
		name        string
		contact     string
		attempts    int
		wantAllowed bool
	}{
		{name: "first attempt allowed", contact: "a@example.com", attempts: 1, wantAllowed: true},
		{name: "at limit allowed", contact: "b@example.com", attempts: 3, wantAllowed: true},
		{name: "over limit blocked", contact: "c@example.com", attempts: 4, wantAllowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result *VelocityResult
			var err error
			for i := 0; i < tt.attempts; i++ {
				result, err = checker.CheckCheckout(ctx, tt.contact)
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantAllowed, result.Allowed)
			assert.Equal(t, tt.attempts, result.CurrentCount)
			if !tt.wantAllowed {
				assert.NotEmpty(t, result.Message)
			}
		})
	}
}

func TestVelocityChecker_ContactNormalizedAndReset(t *testing.T) {
	redisClient, _ := setupTestRedis(t)
	config := DefaultVelocityConfig()
	config.MaxCheckoutsPerContact = 1
	checker := NewVelocityChecker(redisClient, config, nil)
	ctx := context.Background()

	first, err := checker.CheckCheckout(ctx, "Payer@Example.com")
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	second, err := checker.CheckCheckout(ctx, " payer@example.com ")
	require.NoError(t, err)
	assert.False(t, second.Allowed)

	require.NoError(t, checker.ResetCheckout(ctx, "payer@example.com"))
	third, err := checker.CheckCheckout(ctx, "payer@example.com")
	require.NoError(t, err)
	assert.True(t, third.Allowed)
}

func TestVelocityChecker_WindowExpires(t *testing.T) {
	redisClient, mr := setupTestRedis(t)
	config := DefaultVelocityConfig()
	config.MaxCheckoutsPerContact = 1
	config.CheckoutWindow = time.Minute
	checker := NewVelocityChecker(redisClient, config, nil)
	ctx := context.Background()

	_, err := checker.CheckCheckout(ctx, "x@example.com")
	require.NoError(t, err)
	blocked, err := checker.CheckCheckout(ctx, "x@example.com")
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	mr.FastForward(2 * time.Minute)
	allowed, err := checker.CheckCheckout(ctx, "x@example.com")
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
}

func TestVelocityChecker_FailsOpen(t *testing.T) {
	redisClient, mr := setupTestRedis(t)
	checker := NewVelocityChecker(redisClient, DefaultVelocityConfig(), nil)
	mr.Close()

	result, err := checker.CheckCheckout(context.Background(), "y@example.com")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, "velocity check unavailable", result.Message)
}

func TestVelocityChecker_NilClientAllows(t *testing.T) {
	checker := NewVelocityChecker(nil, DefaultVelocityConfig(), nil)
	result, err := checker.CheckCheckout(context.Background(), "z@example.com")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/bookingcore/internal/clock"
	appconfig "github.com/wolfman30/bookingcore/internal/config"
	"github.com/wolfman30/bookingcore/internal/notify"
	"github.com/wolfman30/bookingcore/internal/observability/metrics"
	"github.com/wolfman30/bookingcore/internal/payments"
	"github.com/wolfman30/bookingcore/internal/reservations"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		DatabaseURL:           "postgres://localhost/bookingcore",
		AllowFakePayments:     true,
		Currency:              "usd",
		ImmediateTTL:          30 * time.Minute,
		DelayedTTL:            72 * time.Hour,
		DelayedPaymentMethods: []string{"oxxo"},
		RefundTimeout:         time.Second,
		GatewayAttemptTimeout: time.Second,
		CheckoutMaxPerContact: 3,
		CheckoutWindow:        time.Hour,
		OutboxBatchSize:       10,
		OutboxInterval:        time.Second,
		OutboxMaxAttempts:     3,
	}
}

func TestBuildRedisClient(t *testing.T) {
	logger := logging.New("error")
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, logger, true))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, true)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, true))
}

func TestBuildPoolRequiresURL(t *testing.T) {
	_, err := BuildPool(context.Background(), &appconfig.Config{})
	assert.Error(t, err)
}

func TestBuildGateway(t *testing.T) {
	logger := logging.New("error")

	gw, fake, err := BuildGateway(testConfig(), nil, logger)
	require.NoError(t, err)
	require.NotNil(t, fake)
	assert.Same(t, fake, gw)

	cfg := testConfig()
	cfg.AllowFakePayments = false
	_, _, err = BuildGateway(cfg, nil, logger)
	assert.Error(t, err)

	cfg.StripeSecretKey = "sk_test_123"
	cfg.StripeWebhookSecret = "whsec_123"
	gw, fake, err = BuildGateway(cfg, metrics.NewBookingMetrics(prometheus.NewRegistry()), logger)
	require.NoError(t, err)
	assert.Nil(t, fake)
	assert.IsType(t, &payments.StripeGateway{}, gw)
}

func TestBuildNotifierFallsBackToLog(t *testing.T) {
	n := BuildNotifier(testConfig(), nil, logging.New("error"))
	assert.IsType(t, &notify.LogNotifier{}, n)

	cfg := testConfig()
	cfg.SendGridAPIKey = "SG.test"
	cfg.SendGridFromEmail = "bookings@example.com"
	multi, ok := BuildNotifier(cfg, nil, logging.New("error")).(notify.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 1)
}

func TestBuildCoreAndSweep(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	cfg := testConfig()
	gw, _, err := BuildGateway(cfg, nil, logging.New("error"))
	require.NoError(t, err)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	core, err := BuildCore(Deps{
		Config:  cfg,
		Pool:    mock,
		Gateway: gw,
		Metrics: metrics.NewBookingMetrics(prometheus.NewRegistry()),
		Clock:   clock.NewFixed(now),
		Logger:  logging.New("error"),
	})
	require.NoError(t, err)
	assert.NotNil(t, core.Processor)
	assert.NotNil(t, core.Checkout)
	assert.NotNil(t, core.Deliverer(cfg, nil, logging.New("error")))

	mock.ExpectExec("UPDATE slot_reservations").
		WithArgs(now, reservations.ReasonExpired).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	n, err := core.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildCoreRequiresDeps(t *testing.T) {
	_, err := BuildCore(Deps{Config: testConfig()})
	assert.Error(t, err)
}

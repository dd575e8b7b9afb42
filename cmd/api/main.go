package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/bookingcore/cmd/mainconfig"
	"github.com/wolfman30/bookingcore/internal/api/router"
	"github.com/wolfman30/bookingcore/internal/app/bootstrap"
	appconfig "github.com/wolfman30/bookingcore/internal/config"
	httpmiddleware "github.com/wolfman30/bookingcore/internal/http/middleware"
	"github.com/wolfman30/bookingcore/internal/observability/metrics"
	"github.com/wolfman30/bookingcore/internal/payments"
	"github.com/wolfman30/bookingcore/internal/refunds"
	"github.com/wolfman30/bookingcore/internal/reservations"
	"github.com/wolfman30/bookingcore/internal/webhooks"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting bookingcore API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := bootstrap.BuildPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	metricsHandler, bookingMetrics := setupMetrics()

	var awsCfg *aws.Config
	if mainconfig.NeedsAWS(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	gateway, fake, err := bootstrap.BuildGateway(cfg, bookingMetrics, logger)
	if err != nil {
		logger.Error("failed to build payment gateway", "error", err)
		os.Exit(1)
	}

	core, err := bootstrap.BuildCore(bootstrap.Deps{
		Config:   cfg,
		Pool:     pool,
		Redis:    redisClient,
		Gateway:  gateway,
		Notifier: bootstrap.BuildNotifier(cfg, awsCfg, logger),
		Metrics:  bookingMetrics,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to assemble core", "error", err)
		os.Exit(1)
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx)

	health := map[string]router.HealthCheck{"postgres": pool.Ping}
	if redisClient != nil {
		health["redis"] = redisPing(redisClient)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      buildHandler(cfg, core, fake, bookingMetrics, metricsHandler, limiter, health, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func setupMetrics() (http.Handler, *metrics.BookingMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), metrics.NewBookingMetrics(registry)
}

// buildHandler mounts the core's HTTP surfaces. The fake checkout UI is
// mounted only when the fake gateway is active.
func buildHandler(
	cfg *appconfig.Config,
	core *bootstrap.Core,
	fake *payments.FakeGateway,
	m *metrics.BookingMetrics,
	metricsHandler http.Handler,
	limiter *httpmiddleware.RateLimiter,
	health map[string]router.HealthCheck,
	logger *logging.Logger,
) http.Handler {
	routerCfg := &router.Config{
		Logger:             logger,
		Reservations:       reservations.NewHandler(core.Checkout, core.Reservations, logger.Component("reservations_api")).Routes(),
		Webhooks:           webhooks.NewHandler(core.Processor, logger.Component("webhooks_api")).WithMetrics(m),
		Admin:              adminRoutes(core, logger),
		MetricsHandler:     metricsHandler,
		Health:             health,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
	}
	if fake != nil {
		sink := func(ctx context.Context, payload []byte, signature string) error {
			_, err := core.Processor.Ingest(ctx, payload, signature)
			return err
		}
		routerCfg.FakePayments = payments.NewFakeCheckoutHandler(fake, sink, logger.Component("fake_checkout")).Routes()
	}
	return router.New(routerCfg)
}

func adminRoutes(core *bootstrap.Core, logger *logging.Logger) http.Handler {
	r := chi.NewRouter()
	r.Mount("/refunds", refunds.NewAdminHandler(core.RefundStore, nil, logger.Component("refunds_admin")).Routes())
	return r
}

func redisPing(client *redis.Client) router.HealthCheck {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

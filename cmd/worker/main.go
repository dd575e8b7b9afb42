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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/wolfman30/bookingcore/cmd/mainconfig"
	"github.com/wolfman30/bookingcore/internal/app/bootstrap"
	appconfig "github.com/wolfman30/bookingcore/internal/config"
	"github.com/wolfman30/bookingcore/internal/observability/metrics"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
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

	registry := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(registry)

	var awsCfg *aws.Config
	if mainconfig.NeedsAWS(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	gateway, _, err := bootstrap.BuildGateway(cfg, bookingMetrics, logger)
	if err != nil {
		logger.Error("failed to build payment gateway", "error", err)
		os.Exit(1)
	}

	core, err := bootstrap.BuildCore(bootstrap.Deps{
		Config:   cfg,
		Pool:     pool,
		Gateway:  gateway,
		Notifier: bootstrap.BuildNotifier(cfg, awsCfg, logger),
		Metrics:  bookingMetrics,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to assemble core", "error", err)
		os.Exit(1)
	}

	scheduler := cron.New()
	if _, err := scheduleSweep(ctx, scheduler, cfg.SweepSchedule, core.Sweep, logger.Component("sweeper")); err != nil {
		logger.Error("invalid sweep schedule", "error", err, "schedule", cfg.SweepSchedule)
		os.Exit(1)
	}
	scheduler.Start()

	deliverer := core.Deliverer(cfg, bookingMetrics, logger)
	go deliverer.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           opsHandler(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("worker started",
		"sweep_schedule", cfg.SweepSchedule,
		"outbox_interval", cfg.OutboxInterval,
	)
	<-ctx.Done()

	logger.Info("worker shutting down")
	// Stop returns a context that is done once running sweeps finish.
	<-scheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type sweepFunc func(ctx context.Context) (int, error)

// scheduleSweep registers the reservation sweep on the cron scheduler.
// Overlapping runs are skipped rather than queued.
func scheduleSweep(ctx context.Context, c *cron.Cron, schedule string, sweep sweepFunc, logger *logging.Logger) (cron.EntryID, error) {
	job := cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := sweep(ctx); err != nil {
			logger.Error("sweep failed", "error", err)
		}
	})
	return c.AddJob(schedule, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(job))
}

func opsHandler(registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

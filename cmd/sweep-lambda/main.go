package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/bookingcore/internal/app/bootstrap"
	"github.com/wolfman30/bookingcore/internal/clock"
	appconfig "github.com/wolfman30/bookingcore/internal/config"
	"github.com/wolfman30/bookingcore/internal/database"
	"github.com/wolfman30/bookingcore/internal/reservations"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

type sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
	Now() time.Time
}

type sweepResult struct {
	Swept int       `json:"swept"`
	AsOf  time.Time `json:"as_of"`
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).Component("sweep_lambda")

	// The pool outlives invocations so warm starts reuse connections.
	pool, err := bootstrap.BuildPool(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		panic(err)
	}

	tx := database.NewTxManager(pool, cfg.DBTxTimeout)
	manager := reservations.NewManager(reservations.NewPostgresRepository(tx), clock.NewSystem(), logger)

	lambda.Start(func(ctx context.Context, evt events.CloudWatchEvent) (sweepResult, error) {
		return handle(ctx, manager, evt, logger)
	})
}

func handle(ctx context.Context, s sweeper, evt events.CloudWatchEvent, logger *logging.Logger) (sweepResult, error) {
	now := s.Now()
	n, err := s.Sweep(ctx, now)
	if err != nil {
		logger.Error("sweep failed", "error", err, "event_id", evt.ID)
		return sweepResult{}, err
	}
	logger.Info("sweep complete", "swept", n, "as_of", now, "event_id", evt.ID)
	return sweepResult{Swept: n, AsOf: now}, nil
}

package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/bookingcore/internal/bookings"
	"github.com/wolfman30/bookingcore/internal/calendar"
	"github.com/wolfman30/bookingcore/internal/clock"
	appconfig "github.com/wolfman30/bookingcore/internal/config"
	"github.com/wolfman30/bookingcore/internal/conflicts"
	"github.com/wolfman30/bookingcore/internal/database"
	"github.com/wolfman30/bookingcore/internal/events"
	"github.com/wolfman30/bookingcore/internal/notify"
	"github.com/wolfman30/bookingcore/internal/observability/metrics"
	"github.com/wolfman30/bookingcore/internal/payments"
	"github.com/wolfman30/bookingcore/internal/refunds"
	"github.com/wolfman30/bookingcore/internal/reservations"
	"github.com/wolfman30/bookingcore/internal/webhooks"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

// Deps are the runtime resources the core is assembled from.
type Deps struct {
	Config   *appconfig.Config
	Pool     database.Pool
	Redis    *redis.Client
	Gateway  payments.Gateway
	Notifier notify.Notifier
	Metrics  *metrics.BookingMetrics
	Clock    clock.Clock
	Logger   *logging.Logger
}

// Core is the assembled reservation, webhook and refund pipeline shared by
// the API and the worker.
type Core struct {
	Tx           *database.TxManager
	Reservations *reservations.Manager
	Checkout     *reservations.CheckoutService
	StateMachine *bookings.StateMachine
	Processor    *webhooks.Processor
	Refunds      *refunds.Engine
	RefundStore  *refunds.PostgresRepository
	Outbox       *events.OutboxStore
	SideEffects  *bookings.SideEffects
}

// BuildCore wires every component onto one transaction manager so the
// dedup record, reservation rows, bookings and outbox entries of a webhook
// commit together.
func BuildCore(deps Deps) (*Core, error) {
	cfg := deps.Config
	if cfg == nil || deps.Pool == nil || deps.Gateway == nil {
		return nil, fmt.Errorf("bootstrap: config, pool and gateway are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}

	tx := database.NewTxManager(deps.Pool, cfg.DBTxTimeout)
	resRepo := reservations.NewPostgresRepository(tx)
	bookingRepo := bookings.NewPostgresRepository(tx)
	refundRepo := refunds.NewPostgresRepository(tx)
	outbox := events.NewOutboxStore(tx)

	manager := reservations.NewManager(resRepo, clk, logger.Component("reservations"), reservations.WithMetrics(deps.Metrics))

	checkoutOpts := []reservations.CheckoutOption{reservations.WithDefaultCurrency(cfg.Currency)}
	if deps.Redis != nil {
		checkoutOpts = append(checkoutOpts, reservations.WithVelocity(payments.NewVelocityChecker(deps.Redis, payments.VelocityConfig{
			MaxCheckoutsPerContact: cfg.CheckoutMaxPerContact,
			CheckoutWindow:         cfg.CheckoutWindow,
			Enabled:                cfg.CheckoutMaxPerContact > 0,
		}, logger)))
	}
	checkout := reservations.NewCheckoutService(manager, deps.Gateway,
		reservations.NewTTLPolicy(cfg.ImmediateTTL, cfg.DelayedTTL, cfg.DelayedPaymentMethods),
		logger.Component("checkout"), checkoutOpts...)

	detector := conflicts.NewDetector(conflicts.NewPostgresCalendar(tx), bookingRepo, clk, logger.Component("conflicts"))
	machine := bookings.NewStateMachine(resRepo, bookingRepo, detector, outbox, clk, logger.Component("bookings")).
		WithMetrics(deps.Metrics)
	processor := webhooks.NewProcessor(deps.Gateway, events.NewPaymentEventStore(tx), tx, machine, logger.Component("webhooks"))

	engine := refunds.NewEngine(deps.Gateway, refundRepo, clk, cfg.RefundTimeout, logger.Component("refunds")).
		WithMetrics(deps.Metrics)
	calendarClient := calendar.NewClient(cfg.CalendarBaseURL, cfg.CalendarAPIToken, logger.Component("calendar"),
		calendar.WithHTTPClient(&http.Client{Timeout: cfg.GatewayAttemptTimeout}))
	effects := bookings.NewSideEffects(engine, calendarClient, deps.Notifier, logger.Component("side_effects"))

	return &Core{
		Tx:           tx,
		Reservations: manager,
		Checkout:     checkout,
		StateMachine: machine,
		Processor:    processor,
		Refunds:      engine,
		RefundStore:  refundRepo,
		Outbox:       outbox,
		SideEffects:  effects,
	}, nil
}

// Deliverer builds the outbox loop that runs refunds, calendar writes and
// notifications after their transaction commits.
func (c *Core) Deliverer(cfg *appconfig.Config, m *metrics.BookingMetrics, logger *logging.Logger) *events.Deliverer {
	mux := events.NewMux(logger)
	c.SideEffects.Register(mux)
	return events.NewDeliverer(c.Outbox, mux, logger.Component("outbox")).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxInterval).
		WithMaxAttempts(cfg.OutboxMaxAttempts).
		WithObserver(m.ObserveOutbox)
}

// Sweep expires overdue holds once.
func (c *Core) Sweep(ctx context.Context) (int, error) {
	return c.Reservations.Sweep(ctx, c.Reservations.Now())
}

// Package webhooks verifies processor notifications, deduplicates them and
// hands novel ones to the booking state machine.
package webhooks

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/bookingcore/internal/bookings"
	"github.com/wolfman30/bookingcore/internal/events"
	"github.com/wolfman30/bookingcore/internal/payments"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

var tracer = otel.Tracer("bookingcore.internal.webhooks")

// Status is the ingestion verdict for one delivery.
type Status string

const (
	Accepted  Status = "accepted"
	Duplicate Status = "duplicate"
	Rejected  Status = "rejected"
	Failed    Status = "failed"
)

// Result describes what Ingest did with a delivery.
type Result struct {
	Status     Status
	EventID    string
	Kind       payments.EventKind
	Transition bookings.Transition
}

type eventParser interface {
	ParseEvent(payload []byte, signatureHeader string) (payments.Event, error)
}

type eventStore interface {
	Record(ctx context.Context, evt events.PaymentEvent) (bool, error)
	IsProcessed(ctx context.Context, externalID string) (bool, error)
	LockForProcessing(ctx context.Context, externalID string) (bool, error)
	MarkProcessed(ctx context.Context, externalID string) error
	RecordFailure(ctx context.Context, externalID string, cause error) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type eventHandler interface {
	Handle(ctx context.Context, evt payments.Event) (bookings.Transition, error)
}

// Processor is the ingestion pipeline behind the webhook endpoint.
type Processor struct {
	parser  eventParser
	store   eventStore
	tx      txRunner
	handler eventHandler
	logger  *logging.Logger
}

func NewProcessor(parser eventParser, store eventStore, tx txRunner, handler eventHandler, logger *logging.Logger) *Processor {
	if parser == nil || store == nil || tx == nil || handler == nil {
		panic("webhooks: processor dependencies required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{parser: parser, store: store, tx: tx, handler: handler, logger: logger}
}

// Ingest verifies, records and dispatches one delivery. The dedup stamp and
// every state change commit in a single transaction; on error nothing but
// the attempt counter is kept, so a redelivery retries the event.
func (p *Processor) Ingest(ctx context.Context, payload []byte, signature string) (Result, error) {
	ctx, span := tracer.Start(ctx, "webhooks.ingest")
	defer span.End()

	evt, err := p.parser.ParseEvent(payload, signature)
	if err != nil {
		p.logger.Warn("webhook rejected", "error", err)
		return Result{Status: Rejected}, err
	}
	meta := evt.Meta()
	result := Result{EventID: meta.EventID, Kind: evt.Kind()}
	span.SetAttributes(
		attribute.String("bookingcore.event_id", meta.EventID),
		attribute.String("bookingcore.event_kind", string(evt.Kind())),
	)

	if _, ok := evt.(payments.Unsupported); ok {
		p.logger.Debug("unsupported webhook acknowledged", "event_id", meta.EventID, "type", meta.ProviderType)
		result.Status = Accepted
		return result, nil
	}

	inserted, err := p.store.Record(ctx, events.PaymentEvent{
		ExternalEventID:  meta.EventID,
		Provider:         "stripe",
		Kind:             meta.ProviderType,
		PaymentIntentRef: meta.IntentRef,
		Payload:          meta.Raw,
	})
	if err != nil {
		span.RecordError(err)
		result.Status = Failed
		return result, fmt.Errorf("webhooks: record event: %w", err)
	}
	if !inserted {
		processed, err := p.store.IsProcessed(ctx, meta.EventID)
		if err != nil {
			result.Status = Failed
			return result, fmt.Errorf("webhooks: check processed: %w", err)
		}
		if processed {
			result.Status = Duplicate
			return result, nil
		}
	}

	duplicate := false
	err = p.tx.WithTx(ctx, func(ctx context.Context) error {
		processed, err := p.store.LockForProcessing(ctx, meta.EventID)
		if err != nil {
			return err
		}
		if processed {
			duplicate = true
			return nil
		}
		tr, err := p.handler.Handle(ctx, evt)
		if err != nil {
			return err
		}
		result.Transition = tr
		return p.store.MarkProcessed(ctx, meta.EventID)
	})
	if err != nil {
		span.RecordError(err)
		if recErr := p.store.RecordFailure(ctx, meta.EventID, err); recErr != nil {
			p.logger.Error("failed to record webhook failure", "error", recErr, "event_id", meta.EventID)
		}
		p.logger.Error("webhook handling failed", "error", err, "event_id", meta.EventID, "kind", evt.Kind())
		result.Status = Failed
		return result, fmt.Errorf("webhooks: handle %s: %w", meta.EventID, err)
	}
	if duplicate {
		result.Status = Duplicate
		return result, nil
	}

	result.Status = Accepted
	p.logInformational(result)
	return result, nil
}

func (p *Processor) logInformational(result Result) {
	tr := result.Transition
	switch {
	case errors.Is(tr.Err, bookings.ErrOrphanedPaymentEvent):
		// Already logged by the state machine with full context.
	case errors.Is(tr.Err, bookings.ErrReservationExpired):
		p.logger.Warn("late payment refunded", "event_id", result.EventID, "reservation_id", tr.ReservationID)
	default:
		p.logger.Info("webhook processed",
			"event_id", result.EventID,
			"kind", result.Kind,
			"outcome", tr.Outcome,
			"reservation_id", tr.ReservationID,
		)
	}
}

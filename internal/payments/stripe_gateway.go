package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/bookingcore/pkg/logging"
)

var stripeTracer = otel.Tracer("bookingcore.internal.payments.stripe")

// StripeConfig configures the Stripe gateway.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// APIURL overrides the API base URL (stripe-mock, tests).
	APIURL     string
	SuccessURL string
	CancelURL  string
	Retry      RetryPolicy
	HTTPClient *http.Client
}

// StripeGateway implements Gateway on Stripe Checkout.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	retrier       *Retrier
	logger        *logging.Logger
}

// NewStripeGateway builds a gateway with SDK-level retries disabled; retries
// are owned by the Retrier so they can be classified and bounded in one place.
func NewStripeGateway(cfg StripeConfig, logger *logging.Logger) *StripeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if url := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"); url != "" {
		backendCfg.URL = stripe.String(url)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	return &StripeGateway{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		retrier:       NewRetrier(cfg.Retry, logger),
		logger:        logger,
	}
}

// WithRetrier replaces the retrier (metrics observers, tests).
func (g *StripeGateway) WithRetrier(r *Retrier) *StripeGateway {
	if r != nil {
		g.retrier = r
	}
	return g
}

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_checkout_session")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("bookingcore.amount_cents", req.AmountCents),
		attribute.String("bookingcore.reservation_id", req.Metadata[MetaReservationID]),
	)

	if err := req.validate(); err != nil {
		return Session{}, err
	}

	successURL := firstNonEmpty(req.SuccessURL, g.successURL)
	cancelURL := firstNonEmpty(req.CancelURL, g.cancelURL)
	description := firstNonEmpty(req.Description, "Booking")

	var out Session
	err := g.retrier.Do(ctx, "create_session", func(ctx context.Context) error {
		params := &stripe.CheckoutSessionParams{
			Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
			LineItems: []*stripe.CheckoutSessionLineItemParams{{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
				},
				Quantity: stripe.Int64(1),
			}},
			PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
				Metadata: copyMetadata(req.Metadata),
			},
		}
		params.Context = ctx
		if len(req.PaymentMethods) > 0 {
			params.PaymentMethodTypes = stripe.StringSlice(req.PaymentMethods)
		}
		if successURL != "" {
			params.SuccessURL = stripe.String(successURL)
		}
		if cancelURL != "" {
			params.CancelURL = stripe.String(cancelURL)
		}
		if !req.ExpiresAt.IsZero() {
			params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
		}
		for k, v := range req.Metadata {
			params.AddMetadata(k, v)
		}
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		}

		session, err := g.api.CheckoutSessions.New(params)
		if err != nil {
			return err
		}
		out = Session{Ref: session.ID, URL: session.URL}
		if session.ExpiresAt > 0 {
			out.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session failed")
		return Session{}, err
	}
	span.SetAttributes(attribute.String("bookingcore.session_ref", out.Ref))
	g.logger.Info("checkout session created", "session_ref", out.Ref, "reservation_id", req.Metadata[MetaReservationID])
	return out, nil
}

func (g *StripeGateway) GetSession(ctx context.Context, sessionRef string) (SessionStatus, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.get_checkout_session")
	defer span.End()
	span.SetAttributes(attribute.String("bookingcore.session_ref", sessionRef))

	var out SessionStatus
	err := g.retrier.Do(ctx, "get_session", func(ctx context.Context) error {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		session, err := g.api.CheckoutSessions.Get(sessionRef, params)
		if err != nil {
			return err
		}
		out = SessionStatus{
			Ref:           session.ID,
			Status:        string(session.Status),
			PaymentStatus: string(session.PaymentStatus),
			Metadata:      session.Metadata,
		}
		if session.PaymentIntent != nil {
			out.PaymentIntentRef = session.PaymentIntent.ID
		}
		return nil
	})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return SessionStatus{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionRef)
		}
		span.RecordError(err)
		return SessionStatus{}, err
	}
	return out, nil
}

func (g *StripeGateway) IssueRefund(ctx context.Context, req RefundRequest) (RefundConfirmation, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_refund")
	defer span.End()
	span.SetAttributes(
		attribute.String("bookingcore.intent_ref", req.PaymentIntentRef),
		attribute.Int64("bookingcore.amount_cents", req.AmountCents),
	)

	if req.PaymentIntentRef == "" || req.AmountCents < 0 {
		return RefundConfirmation{}, ErrInvalidRequest
	}
	key := firstNonEmpty(req.IdempotencyKey, RefundIdempotencyKey(req.PaymentIntentRef))

	var out RefundConfirmation
	err := g.retrier.Do(ctx, "issue_refund", func(ctx context.Context) error {
		params := &stripe.RefundParams{
			PaymentIntent: stripe.String(req.PaymentIntentRef),
			Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
		}
		params.Context = ctx
		if req.AmountCents > 0 {
			params.Amount = stripe.Int64(req.AmountCents)
		}
		if req.Reason != "" {
			params.AddMetadata("conflict_kind", req.Reason)
		}
		params.SetIdempotencyKey(key)

		refund, err := g.api.Refunds.New(params)
		if err != nil {
			return err
		}
		out = RefundConfirmation{RefundRef: refund.ID, Status: string(refund.Status), AmountCents: refund.Amount}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refund failed")
		return RefundConfirmation{}, err
	}
	g.logger.Info("refund issued", "intent_ref", req.PaymentIntentRef, "refund_ref", out.RefundRef, "amount_cents", out.AmountCents)
	return out, nil
}

func (g *StripeGateway) ExpireSession(ctx context.Context, sessionRef string) error {
	ctx, span := stripeTracer.Start(ctx, "stripe.expire_checkout_session")
	defer span.End()
	span.SetAttributes(attribute.String("bookingcore.session_ref", sessionRef))

	err := g.retrier.Do(ctx, "expire_session", func(ctx context.Context) error {
		params := &stripe.CheckoutSessionExpireParams{}
		params.Context = ctx
		_, err := g.api.CheckoutSessions.Expire(sessionRef, params)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ParseEvent verifies the Stripe-Signature header and normalizes the event.
func (g *StripeGateway) ParseEvent(payload []byte, signatureHeader string) (Event, error) {
	return parseSignedEvent(payload, signatureHeader, g.webhookSecret)
}

func parseSignedEvent(payload []byte, signatureHeader, secret string) (Event, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrSignatureInvalid)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if evt.ID == "" {
		return nil, fmt.Errorf("%w: event id missing", ErrSignatureInvalid)
	}
	return fromStripeEvent(evt, payload)
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

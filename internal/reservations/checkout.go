package reservations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/bookingcore/internal/payments"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

// ErrCheckoutUnavailable wraps payment processor failures while opening a session.
var ErrCheckoutUnavailable = errors.New("reservations: payment session unavailable")

// Stripe accepts session expiry between 30 minutes and 24 hours out.
const (
	minSessionLifetime = 31 * time.Minute
	maxSessionLifetime = 24 * time.Hour
)

type velocityGuard interface {
	CheckCheckout(ctx context.Context, contact string) (*payments.VelocityResult, error)
}

// CheckoutInput is a payer's request to start paying for a slot.
type CheckoutInput struct {
	ResourceID     uuid.UUID
	StartTime      time.Time
	EndTime        time.Time
	HolderContact  string
	AmountCents    int64
	Currency       string
	PaymentMethods []string
	SuccessURL     string
	CancelURL      string
}

// CheckoutResult is returned to the payer to continue on the hosted page.
type CheckoutResult struct {
	ReservationID uuid.UUID
	SessionRef    string
	CheckoutURL   string
	ExpiresAt     time.Time
	Path          PaymentPath
}

// CheckoutService opens a payment session and the matching slot hold.
type CheckoutService struct {
	manager         *Manager
	gateway         payments.Gateway
	policy          TTLPolicy
	velocity        velocityGuard
	defaultCurrency string
	logger          *logging.Logger
}

type CheckoutOption func(*CheckoutService)

// WithVelocity enables per-contact attempt limits.
func WithVelocity(v velocityGuard) CheckoutOption {
	return func(s *CheckoutService) {
		s.velocity = v
	}
}

// WithDefaultCurrency sets the currency used when a request omits one.
func WithDefaultCurrency(currency string) CheckoutOption {
	return func(s *CheckoutService) {
		if currency = strings.TrimSpace(currency); currency != "" {
			s.defaultCurrency = strings.ToLower(currency)
		}
	}
}

func NewCheckoutService(manager *Manager, gateway payments.Gateway, policy TTLPolicy, logger *logging.Logger, opts ...CheckoutOption) *CheckoutService {
	if logger == nil {
		logger = logging.Default()
	}
	s := &CheckoutService{
		manager:         manager,
		gateway:         gateway,
		policy:          policy,
		defaultCurrency: "usd",
		logger:          logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartCheckout creates the processor session first, carrying a
// pre-generated reservation id in its metadata, then places the hold. If
// the hold loses the race the session is expired so it cannot be paid.
func (s *CheckoutService) StartCheckout(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	ctx, span := tracer.Start(ctx, "reservations.start_checkout")
	defer span.End()

	if in.ResourceID == uuid.Nil || strings.TrimSpace(in.HolderContact) == "" || in.AmountCents <= 0 {
		return CheckoutResult{}, ErrInvalidInput
	}
	if !in.EndTime.After(in.StartTime) {
		return CheckoutResult{}, ErrInvalidRange
	}
	now := s.manager.Now()
	if !in.StartTime.After(now) {
		return CheckoutResult{}, fmt.Errorf("%w: slot starts in the past", ErrInvalidInput)
	}

	if s.velocity != nil {
		result, err := s.velocity.CheckCheckout(ctx, in.HolderContact)
		if err == nil && result != nil && !result.Allowed {
			return CheckoutResult{}, ErrVelocityExceeded
		}
	}

	taken, err := s.manager.SlotTaken(ctx, in.ResourceID, in.StartTime, in.EndTime)
	if err != nil {
		return CheckoutResult{}, err
	}
	if taken {
		return CheckoutResult{}, ErrSlotConflict
	}

	methods := in.PaymentMethods
	if len(methods) == 0 {
		methods = []string{"card"}
	}
	ttl, path := s.policy.For(methods)
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	reservationID := uuid.New()
	session, err := s.gateway.CreateSession(ctx, payments.SessionRequest{
		AmountCents:    in.AmountCents,
		Currency:       currency,
		PaymentMethods: methods,
		SuccessURL:     in.SuccessURL,
		CancelURL:      in.CancelURL,
		ExpiresAt:      sessionExpiry(now, ttl),
		IdempotencyKey: "checkout-" + reservationID.String(),
		Metadata: map[string]string{
			payments.MetaReservationID: reservationID.String(),
			payments.MetaResourceID:    in.ResourceID.String(),
			payments.MetaStartsAt:      in.StartTime.UTC().Format(time.RFC3339),
			payments.MetaEndsAt:        in.EndTime.UTC().Format(time.RFC3339),
			payments.MetaHolderContact: strings.TrimSpace(in.HolderContact),
			payments.MetaPaymentPath:   string(path),
		},
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("checkout session creation failed", "error", err, "reservation_id", reservationID)
		return CheckoutResult{}, fmt.Errorf("%w: %w", ErrCheckoutUnavailable, err)
	}

	res, err := s.manager.Create(ctx, CreateInput{
		ID:            reservationID,
		ResourceID:    in.ResourceID,
		StartTime:     in.StartTime,
		EndTime:       in.EndTime,
		HolderContact: in.HolderContact,
		SessionRef:    session.Ref,
		Path:          path,
		TTL:           ttl,
		AmountCents:   in.AmountCents,
		Currency:      currency,
	})
	if err != nil {
		if expireErr := s.gateway.ExpireSession(ctx, session.Ref); expireErr != nil {
			s.logger.Warn("failed to expire orphaned checkout session", "error", expireErr, "session_ref", session.Ref)
		}
		return CheckoutResult{}, err
	}

	return CheckoutResult{
		ReservationID: res.ID,
		SessionRef:    session.Ref,
		CheckoutURL:   session.URL,
		ExpiresAt:     res.ExpiresAt,
		Path:          res.Path,
	}, nil
}

func sessionExpiry(now time.Time, ttl time.Duration) time.Time {
	switch {
	case ttl < minSessionLifetime:
		ttl = minSessionLifetime
	case ttl > maxSessionLifetime:
		ttl = maxSessionLifetime
	}
	return now.Add(ttl)
}

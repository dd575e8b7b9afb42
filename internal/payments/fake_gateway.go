package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/bookingcore/internal/clock"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

// FakeGateway is an in-memory processor for local development and tests.
// Events it emits are signed with its webhook secret, so they travel the
// real verification path.
//
// This MUST be gated by configuration (ALLOW_FAKE_PAYMENTS) and never
// enabled in production.
type FakeGateway struct {
	mu            sync.Mutex
	publicBaseURL string
	webhookSecret string
	clock         clock.Clock
	logger        *logging.Logger

	sessions  map[string]*fakeSession
	refunds   map[string]RefundConfirmation
	refundErr error
	createErr error
	calls     map[string]int
}

type fakeSession struct {
	request   SessionRequest
	intentRef string
	status    string
	paid      string
	expiresAt time.Time
}

func NewFakeGateway(publicBaseURL, webhookSecret string, clk clock.Clock, logger *logging.Logger) *FakeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &FakeGateway{
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		webhookSecret: webhookSecret,
		clock:         clk,
		logger:        logger,
		sessions:      make(map[string]*fakeSession),
		refunds:       make(map[string]RefundConfirmation),
		calls:         make(map[string]int),
	}
}

// FailRefunds makes every following IssueRefund return err (nil clears it).
func (g *FakeGateway) FailRefunds(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundErr = err
}

// FailCreate makes every following CreateSession return err (nil clears it).
func (g *FakeGateway) FailCreate(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createErr = err
}

// Calls reports how many times op was invoked.
func (g *FakeGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Refunds returns issued refunds keyed by intent ref.
func (g *FakeGateway) Refunds() map[string]RefundConfirmation {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]RefundConfirmation, len(g.refunds))
	for k, v := range g.refunds {
		out[k] = v
	}
	return out
}

func (g *FakeGateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	_ = ctx
	if err := req.validate(); err != nil {
		return Session{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["create_session"]++
	if g.createErr != nil {
		return Session{}, &CallError{Op: "create_session", Transient: isTransient(g.createErr), Attempts: 1, Err: g.createErr}
	}

	ref := "cs_fake_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	session := &fakeSession{
		request:   req,
		intentRef: "pi_fake_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		status:    "open",
		paid:      "unpaid",
		expiresAt: req.ExpiresAt,
	}
	g.sessions[ref] = session

	checkoutURL := fmt.Sprintf("/payments/fake/%s", url.PathEscape(ref))
	if g.publicBaseURL != "" {
		checkoutURL = g.publicBaseURL + checkoutURL
	}
	return Session{Ref: ref, URL: checkoutURL, ExpiresAt: req.ExpiresAt}, nil
}

func (g *FakeGateway) GetSession(ctx context.Context, sessionRef string) (SessionStatus, error) {
	_ = ctx
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["get_session"]++
	s, ok := g.sessions[sessionRef]
	if !ok {
		return SessionStatus{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionRef)
	}
	return SessionStatus{
		Ref:              sessionRef,
		Status:           s.status,
		PaymentStatus:    s.paid,
		PaymentIntentRef: s.intentRef,
		Metadata:         copyMetadata(s.request.Metadata),
	}, nil
}

func (g *FakeGateway) IssueRefund(ctx context.Context, req RefundRequest) (RefundConfirmation, error) {
	if err := ctx.Err(); err != nil {
		return RefundConfirmation{}, &CallError{Op: "issue_refund", Attempts: 0, Err: err}
	}
	if req.PaymentIntentRef == "" {
		return RefundConfirmation{}, ErrInvalidRequest
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["issue_refund"]++
	if g.refundErr != nil {
		return RefundConfirmation{}, &CallError{Op: "issue_refund", Transient: isTransient(g.refundErr), Attempts: 1, Err: g.refundErr}
	}
	if existing, ok := g.refunds[req.PaymentIntentRef]; ok {
		return existing, nil
	}
	conf := RefundConfirmation{
		RefundRef:   "re_fake_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Status:      "succeeded",
		AmountCents: req.AmountCents,
	}
	g.refunds[req.PaymentIntentRef] = conf
	g.logger.Info("fake refund issued", "intent_ref", req.PaymentIntentRef, "amount_cents", req.AmountCents)
	return conf, nil
}

func (g *FakeGateway) ExpireSession(ctx context.Context, sessionRef string) error {
	_ = ctx
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["expire_session"]++
	s, ok := g.sessions[sessionRef]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionRef)
	}
	if s.status == "open" {
		s.status = "expired"
	}
	return nil
}

func (g *FakeGateway) ParseEvent(payload []byte, signatureHeader string) (Event, error) {
	return parseSignedEvent(payload, signatureHeader, g.webhookSecret)
}

// ErrSessionClosed is returned when completing a session that is not open.
var ErrSessionClosed = errors.New("payments: fake session is not open")

// Complete simulates the payer finishing checkout. With voucher=true the
// session completes unpaid and a later Settle delivers the money.
// It returns a signed checkout.session.completed event.
func (g *FakeGateway) Complete(sessionRef string, voucher bool) ([]byte, string, error) {
	g.mu.Lock()
	s, ok := g.sessions[sessionRef]
	if !ok {
		g.mu.Unlock()
		return nil, "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionRef)
	}
	if s.status != "open" {
		g.mu.Unlock()
		return nil, "", ErrSessionClosed
	}
	s.status = "complete"
	if voucher {
		s.paid = "unpaid"
	} else {
		s.paid = "paid"
	}
	object := g.sessionObject(sessionRef, s)
	g.mu.Unlock()

	return g.signedEvent(stripeSessionCompleted, object)
}

// Settle simulates a delayed payment clearing (or failing) after a voucher
// was issued.
func (g *FakeGateway) Settle(sessionRef string, succeeded bool) ([]byte, string, error) {
	g.mu.Lock()
	s, ok := g.sessions[sessionRef]
	if !ok {
		g.mu.Unlock()
		return nil, "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionRef)
	}
	eventType := stripeAsyncPaymentFailed
	if succeeded {
		s.paid = "paid"
		eventType = stripeAsyncPaymentSucceeded
	}
	object := g.sessionObject(sessionRef, s)
	g.mu.Unlock()

	return g.signedEvent(eventType, object)
}

func (g *FakeGateway) sessionObject(ref string, s *fakeSession) map[string]any {
	return map[string]any{
		"id":             ref,
		"object":         "checkout.session",
		"status":         s.status,
		"payment_status": s.paid,
		"payment_intent": s.intentRef,
		"amount_total":   s.request.AmountCents,
		"currency":       strings.ToLower(s.request.Currency),
		"metadata":       s.request.Metadata,
	}
}

func (g *FakeGateway) signedEvent(eventType string, object any) ([]byte, string, error) {
	payload, err := BuildEventPayload("evt_fake_"+strings.ReplaceAll(uuid.NewString(), "-", "")[:16], eventType, g.clock.Now(), object)
	if err != nil {
		return nil, "", err
	}
	// Signature timestamps are checked against wall time, not the injected clock.
	return payload, SignPayload(payload, g.webhookSecret, time.Now()), nil
}

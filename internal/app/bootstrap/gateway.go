package bootstrap

import (
	"fmt"
	"strings"

	"github.com/wolfman30/bookingcore/internal/clock"
	appconfig "github.com/wolfman30/bookingcore/internal/config"
	"github.com/wolfman30/bookingcore/internal/observability/metrics"
	"github.com/wolfman30/bookingcore/internal/payments"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

const fakeWebhookSecret = "whsec_fake_local"

// BuildGateway returns the Stripe gateway, or the in-process fake when
// ALLOW_FAKE_PAYMENTS is set and no Stripe key is configured. The fake is
// returned separately so its demo checkout routes can be mounted.
func BuildGateway(cfg *appconfig.Config, m *metrics.BookingMetrics, logger *logging.Logger) (payments.Gateway, *payments.FakeGateway, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	if strings.TrimSpace(cfg.StripeSecretKey) == "" {
		if !cfg.AllowFakePayments {
			return nil, nil, fmt.Errorf("bootstrap: STRIPE_SECRET_KEY is required unless ALLOW_FAKE_PAYMENTS is set")
		}
		secret := cfg.StripeWebhookSecret
		if secret == "" {
			secret = fakeWebhookSecret
		}
		logger.Warn("using fake payment gateway", "public_base_url", cfg.PublicBaseURL)
		fake := payments.NewFakeGateway(cfg.PublicBaseURL, secret, clock.NewSystem(), logger)
		return fake, fake, nil
	}

	policy := payments.RetryPolicy{
		MaxAttempts:    cfg.GatewayMaxAttempts,
		BaseDelay:      cfg.GatewayBaseDelay,
		MaxDelay:       cfg.GatewayMaxDelay,
		AttemptTimeout: cfg.GatewayAttemptTimeout,
	}
	retrier := payments.NewRetrier(policy, logger).WithObserver(m.ObserveGatewayAttempt)
	gateway := payments.NewStripeGateway(payments.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		APIURL:        cfg.StripeAPIURL,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
		Retry:         policy,
	}, logger).WithRetrier(retrier)
	return gateway, nil, nil
}

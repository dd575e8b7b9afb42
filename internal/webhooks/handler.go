package webhooks

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/bookingcore/internal/observability/metrics"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

const maxPayloadBytes = 1 << 20

type ingester interface {
	Ingest(ctx context.Context, payload []byte, signature string) (Result, error)
}

// Handler serves POST /webhooks/stripe.
type Handler struct {
	processor ingester
	logger    *logging.Logger
	metrics   *metrics.BookingMetrics
}

func NewHandler(processor ingester, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{processor: processor, logger: logger}
}

// WithMetrics records webhook results and latency.
func (h *Handler) WithMetrics(m *metrics.BookingMetrics) *Handler {
	h.metrics = m
	return h
}

// ServeHTTP answers 2xx only once the event is durably handled. Conflicts
// resolved during handling still answer 200.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		h.metrics.ObserveWebhook("unknown", string(Rejected), time.Since(started).Seconds())
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	result, err := h.processor.Ingest(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	kind := string(result.Kind)
	if kind == "" {
		kind = "unknown"
	}
	h.metrics.ObserveWebhook(kind, string(result.Status), time.Since(started).Seconds())

	switch result.Status {
	case Accepted, Duplicate:
		w.WriteHeader(http.StatusOK)
	case Rejected:
		http.Error(w, "signature verification failed", http.StatusBadRequest)
	default:
		h.logger.Error("webhook not processed", "error", err, "event_id", result.EventID)
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

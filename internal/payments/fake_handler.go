package payments

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/bookingcore/pkg/logging"
)

// EventSink receives signed webhook payloads, normally the webhook processor.
type EventSink func(ctx context.Context, payload []byte, signature string) error

// FakeCheckoutHandler exposes a tiny demo UI to complete fake sessions.
// Only mount this handler when ALLOW_FAKE_PAYMENTS=true.
type FakeCheckoutHandler struct {
	gateway *FakeGateway
	sink    EventSink
	logger  *logging.Logger
}

func NewFakeCheckoutHandler(gateway *FakeGateway, sink EventSink, logger *logging.Logger) *FakeCheckoutHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakeCheckoutHandler{gateway: gateway, sink: sink, logger: logger}
}

func (h *FakeCheckoutHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{sessionRef}", h.HandleCheckout)
	r.Post("/{sessionRef}/complete", h.HandleComplete)
	r.Post("/{sessionRef}/settle", h.HandleSettle)
	return r
}

func (h *FakeCheckoutHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "sessionRef")
	status, err := h.gateway.GetSession(r.Context(), ref)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	ref = html.EscapeString(ref)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>Demo Checkout</title>
  </head>
  <body>
    <h1>Demo Checkout</h1>
    <p>Reservation: <code>%s</code> (status: %s)</p>
    <form method="POST" action="%s/complete"><button type="submit">Pay now</button></form>
    <form method="POST" action="%s/complete?voucher=1"><button type="submit">Get voucher</button></form>
    <form method="POST" action="%s/settle"><button type="submit">Settle voucher</button></form>
  </body>
</html>`, html.EscapeString(status.Metadata[MetaReservationID]), html.EscapeString(status.Status), ref, ref, ref)
}

func (h *FakeCheckoutHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "sessionRef")
	payload, sig, err := h.gateway.Complete(ref, r.URL.Query().Get("voucher") == "1")
	h.deliver(w, r, ref, payload, sig, err)
}

func (h *FakeCheckoutHandler) HandleSettle(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "sessionRef")
	payload, sig, err := h.gateway.Settle(ref, r.URL.Query().Get("fail") != "1")
	h.deliver(w, r, ref, payload, sig, err)
}

func (h *FakeCheckoutHandler) deliver(w http.ResponseWriter, r *http.Request, ref string, payload []byte, sig string, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrSessionClosed):
		http.Error(w, "session already completed", http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("fake checkout event build failed", "error", err, "session_ref", ref)
		http.Error(w, "failed to complete checkout", http.StatusInternalServerError)
		return
	}
	if h.sink != nil {
		if err := h.sink(r.Context(), payload, sig); err != nil {
			h.logger.Error("fake checkout event delivery failed", "error", err, "session_ref", ref)
			http.Error(w, "failed to deliver event", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

package reservations

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/bookingcore/pkg/logging"
)

type checkoutStarter interface {
	StartCheckout(ctx context.Context, in CheckoutInput) (CheckoutResult, error)
}

type reservationReader interface {
	Get(ctx context.Context, id uuid.UUID) (Reservation, error)
	Release(ctx context.Context, id uuid.UUID, reason string) error
}

// Handler exposes checkout initiation and reservation lookups over HTTP.
type Handler struct {
	checkout checkoutStarter
	manager  reservationReader
	logger   *logging.Logger
}

func NewHandler(checkout checkoutStarter, manager reservationReader, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{checkout: checkout, manager: manager, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/checkout", h.StartCheckout)
	r.Get("/reservations/{reservationID}", h.GetReservation)
	r.Post("/reservations/{reservationID}/release", h.ReleaseReservation)
	return r
}

type checkoutRequest struct {
	ResourceID     string    `json:"resource_id"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	HolderContact  string    `json:"holder_contact"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	PaymentMethods []string  `json:"payment_methods"`
	SuccessURL     string    `json:"success_url"`
	CancelURL      string    `json:"cancel_url"`
}

type checkoutResponse struct {
	ReservationID string    `json:"reservation_id"`
	CheckoutURL   string    `json:"checkout_url"`
	ExpiresAt     time.Time `json:"expires_at"`
	PaymentPath   string    `json:"payment_path"`
}

type releaseRequest struct {
	HolderContact string `json:"holder_contact"`
}

type reservationResponse struct {
	ID            string    `json:"id"`
	ResourceID    string    `json:"resource_id"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	Status        string    `json:"status"`
	PaymentPath   string    `json:"payment_path"`
	ReleaseReason string    `json:"release_reason,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (h *Handler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	resourceID, err := uuid.Parse(req.ResourceID)
	if err != nil {
		jsonError(w, "invalid resource_id", http.StatusBadRequest)
		return
	}

	result, err := h.checkout.StartCheckout(r.Context(), CheckoutInput{
		ResourceID:     resourceID,
		StartTime:      req.StartsAt,
		EndTime:        req.EndsAt,
		HolderContact:  req.HolderContact,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		PaymentMethods: req.PaymentMethods,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrSlotConflict):
		jsonError(w, "slot is no longer available", http.StatusConflict)
		return
	case errors.Is(err, ErrVelocityExceeded):
		jsonError(w, "too many checkout attempts", http.StatusTooManyRequests)
		return
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidRange):
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrCheckoutUnavailable):
		jsonError(w, "payment processor unavailable", http.StatusBadGateway)
		return
	default:
		h.logger.Error("start checkout failed", "error", err, "resource_id", resourceID)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		ReservationID: result.ReservationID.String(),
		CheckoutURL:   result.CheckoutURL,
		ExpiresAt:     result.ExpiresAt,
		PaymentPath:   string(result.Path),
	})
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseReservationID(w, r)
	if !ok {
		return
	}
	res, err := h.manager.Get(r.Context(), id)
	if errors.Is(err, ErrReservationNotFound) {
		jsonError(w, "reservation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get reservation failed", "error", err, "reservation_id", id)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reservationResponse{
		ID:            res.ID.String(),
		ResourceID:    res.ResourceID.String(),
		StartsAt:      res.StartTime,
		EndsAt:        res.EndTime,
		Status:        string(res.Status),
		PaymentPath:   string(res.Path),
		ReleaseReason: res.ReleaseReason,
		ExpiresAt:     res.ExpiresAt,
	})
}

func (h *Handler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseReservationID(w, r)
	if !ok {
		return
	}
	var req releaseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	res, err := h.manager.Get(r.Context(), id)
	if errors.Is(err, ErrReservationNotFound) {
		jsonError(w, "reservation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("release lookup failed", "error", err, "reservation_id", id)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	// A mismatch answers like a missing row.
	if !sameHolder(res.HolderContact, req.HolderContact) {
		h.logger.Warn("release refused, holder mismatch", "reservation_id", id)
		jsonError(w, "reservation not found", http.StatusNotFound)
		return
	}

	err = h.manager.Release(r.Context(), id, ReasonCancelled)
	if errors.Is(err, ErrReservationNotFound) {
		jsonError(w, "reservation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("release reservation failed", "error", err, "reservation_id", id)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sameHolder(stored, given string) bool {
	given = strings.ToLower(strings.TrimSpace(given))
	if given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(stored)), []byte(given)) == 1
}

func parseReservationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "reservationID"))
	if err != nil {
		jsonError(w, "invalid reservation id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package refunds

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/bookingcore/internal/clock"
	"github.com/wolfman30/bookingcore/internal/http/middleware"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

type remediationStore interface {
	ListRemediations(ctx context.Context, includeResolved bool, limit int) ([]Remediation, error)
	ResolveRemediation(ctx context.Context, id uuid.UUID, by, note string, at time.Time) (Remediation, error)
}

// AdminHandler lets operators work the refund remediation queue. Mount it
// behind middleware.AdminJWT.
type AdminHandler struct {
	store  remediationStore
	clock  clock.Clock
	logger *logging.Logger
}

func NewAdminHandler(store remediationStore, clk clock.Clock, logger *logging.Logger) *AdminHandler {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{store: store, clock: clk, logger: logger}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/remediations", h.ListRemediations)
	r.Post("/remediations/{remediationID}/resolve", h.ResolveRemediation)
	return r
}

// ListRemediations serves GET /remediations?status=open|all&limit=N.
func (h *AdminHandler) ListRemediations(w http.ResponseWriter, r *http.Request) {
	includeResolved := strings.EqualFold(r.URL.Query().Get("status"), "all")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.store.ListRemediations(r.Context(), includeResolved, limit)
	if err != nil {
		h.logger.Error("list refund remediations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []Remediation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"remediations": items})
}

type resolveRequest struct {
	Note string `json:"note"`
}

// ResolveRemediation serves POST /remediations/{id}/resolve.
func (h *AdminHandler) ResolveRemediation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "remediationID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid remediation id")
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Note) == "" {
		writeError(w, http.StatusBadRequest, "note is required")
		return
	}

	operator := "admin"
	if claims, ok := middleware.AdminClaimsFromContext(r.Context()); ok && claims.Subject != "" {
		operator = claims.Subject
	}

	rem, err := h.store.ResolveRemediation(r.Context(), id, operator, strings.TrimSpace(req.Note), h.clock.Now())
	switch {
	case err == nil:
	case errors.Is(err, ErrRemediationNotFound):
		writeError(w, http.StatusNotFound, "remediation not found")
		return
	case errors.Is(err, ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "remediation already resolved")
		return
	default:
		h.logger.Error("resolve refund remediation failed", "error", err, "remediation_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.logger.Info("refund remediation resolved", "remediation_id", id, "resolved_by", operator)
	writeJSON(w, http.StatusOK, rem)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

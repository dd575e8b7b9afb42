package reservations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCheckout struct {
	result CheckoutResult
	err    error
	got    CheckoutInput
}

func (s *stubCheckout) StartCheckout(_ context.Context, in CheckoutInput) (CheckoutResult, error) {
	s.got = in
	return s.result, s.err
}

func TestHandlerStartCheckout(t *testing.T) {
	resource := uuid.New()
	start := baseTime.Add(24 * time.Hour)
	body := fmt.Sprintf(`{"resource_id":%q,"starts_at":%q,"ends_at":%q,"holder_contact":"payer@example.com","amount_cents":5000,"payment_methods":["card"]}`,
		resource, start.Format(time.RFC3339), start.Add(time.Hour).Format(time.RFC3339))

	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"created", body, nil, http.StatusCreated},
		{"conflict", body, ErrSlotConflict, http.StatusConflict},
		{"velocity", body, ErrVelocityExceeded, http.StatusTooManyRequests},
		{"invalid range", body, ErrInvalidRange, http.StatusBadRequest},
		{"processor down", body, fmt.Errorf("%w: timeout", ErrCheckoutUnavailable), http.StatusBadGateway},
		{"unexpected", body, errors.New("boom"), http.StatusInternalServerError},
		{"bad json", "{", nil, http.StatusBadRequest},
		{"bad resource", `{"resource_id":"nope"}`, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubCheckout{
				err: tt.err,
				result: CheckoutResult{
					ReservationID: uuid.New(),
					SessionRef:    "cs_1",
					CheckoutURL:   "https://pay.example/cs_1",
					ExpiresAt:     baseTime.Add(30 * time.Minute),
					Path:          PathImmediate,
				},
			}
			h := NewHandler(stub, NewManager(NewInMemoryRepository(), nil, nil), nil)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(tt.body))
			h.Routes().ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus == http.StatusCreated {
				var resp checkoutResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, stub.result.ReservationID.String(), resp.ReservationID)
				assert.Equal(t, "https://pay.example/cs_1", resp.CheckoutURL)
				assert.Equal(t, resource, stub.got.ResourceID)
				assert.True(t, stub.got.StartTime.Equal(start))
			}
		})
	}
}

func TestHandlerGetAndReleaseReservation(t *testing.T) {
	mgr, _, _ := newTestManager()
	start := baseTime.Add(24 * time.Hour)
	res, err := mgr.Create(context.Background(), slotInput(uuid.New(), start, start.Add(time.Hour), "cs_1"))
	require.NoError(t, err)

	router := NewHandler(&stubCheckout{}, mgr, nil).Routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reservations/"+res.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got reservationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "held", got.Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reservations/"+res.ID.String()+"/release",
		bytes.NewBufferString(`{"holder_contact":" Payer@Example.com "}`)))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reservations/"+res.ID.String(), nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "released", got.Status)
	assert.Equal(t, ReasonCancelled, got.ReleaseReason)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reservations/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reservations/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerReleaseRequiresHolder(t *testing.T) {
	mgr, _, _ := newTestManager()
	start := baseTime.Add(24 * time.Hour)
	res, err := mgr.Create(context.Background(), slotInput(uuid.New(), start, start.Add(time.Hour), "cs_1"))
	require.NoError(t, err)

	router := NewHandler(&stubCheckout{}, mgr, nil).Routes()
	path := "/reservations/" + res.ID.String() + "/release"

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"other holder", `{"holder_contact":"someone@example.com"}`, http.StatusNotFound},
		{"empty contact", `{"holder_contact":""}`, http.StatusNotFound},
		{"empty body", `{}`, http.StatusNotFound},
		{"no body", ``, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(tt.body)))
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	got, err := mgr.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusHeld, got.Status)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reservations/"+uuid.NewString()+"/release",
		bytes.NewBufferString(`{"holder_contact":"payer@example.com"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

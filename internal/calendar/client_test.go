package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEventPostsWithBearerToken(t *testing.T) {
	var (
		gotAuth string
		gotKey  string
		gotBody Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	evt := Event{
		BookingID:  uuid.New(),
		ResourceID: uuid.New(),
		Start:      time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		End:        time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Attendee:   "payer@example.com",
	}
	client := NewClient(srv.URL+"/", "tok", nil, WithHTTPClient(srv.Client()))
	require.NoError(t, client.CreateEvent(context.Background(), evt))

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, evt.BookingID.String(), gotKey)
	assert.Equal(t, evt.BookingID, gotBody.BookingID)
	assert.True(t, evt.Start.Equal(gotBody.Start))
}

func TestCreateEventReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "calendar down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil)
	err := client.CreateEvent(context.Background(), Event{BookingID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestUnconfiguredClientSucceeds(t *testing.T) {
	require.NoError(t, NewClient("", "", nil).CreateEvent(context.Background(), Event{BookingID: uuid.New()}))

	var nilClient *Client
	require.NoError(t, nilClient.CreateEvent(context.Background(), Event{BookingID: uuid.New()}))
}

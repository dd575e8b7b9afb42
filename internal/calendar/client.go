// Package calendar mirrors confirmed bookings onto an external calendar
// service over HTTP.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/bookingcore/pkg/logging"
)

var tracer = otel.Tracer("bookingcore.internal.calendar")

// Event is a calendar entry for a confirmed booking.
type Event struct {
	BookingID  uuid.UUID `json:"booking_id"`
	ResourceID uuid.UUID `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Attendee   string    `json:"attendee"`
}

// Client posts events to {baseURL}/events with a bearer token. A client
// without a base URL logs the event and succeeds.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logging.Logger
}

type Option func(*Client)

// WithHTTPClient overrides the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		if c != nil {
			client.httpClient = c
		}
	}
}

func NewClient(baseURL, token string, logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateEvent creates the calendar entry. The booking id is sent as an
// idempotency key so redelivery does not duplicate entries.
func (c *Client) CreateEvent(ctx context.Context, evt Event) error {
	if c == nil || c.baseURL == "" {
		logger := logging.Default()
		if c != nil {
			logger = c.logger
		}
		logger.Info("calendar not configured, skipping event", "booking_id", evt.BookingID, "resource_id", evt.ResourceID)
		return nil
	}

	ctx, span := tracer.Start(ctx, "calendar.create_event")
	defer span.End()
	span.SetAttributes(attribute.String("bookingcore.booking_id", evt.BookingID.String()))

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("calendar: marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("calendar: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", evt.BookingID.String())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("calendar: create event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		c.logger.Error("calendar create event failed",
			"status", resp.StatusCode,
			"body", string(respBody),
			"booking_id", evt.BookingID,
		)
		return fmt.Errorf("calendar: create event: status %d", resp.StatusCode)
	}

	c.logger.Info("calendar event created", "booking_id", evt.BookingID, "resource_id", evt.ResourceID)
	return nil
}

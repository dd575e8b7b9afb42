package payments

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

// SignPayload produces a Stripe-Signature header for payload, using the
// same v1 HMAC-SHA256 scheme ParseEvent verifies.
func SignPayload(payload []byte, secret string, at time.Time) string {
	sig := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(sig))
}

// BuildEventPayload renders a Stripe-shaped event body around object.
func BuildEventPayload(eventID, eventType string, created time.Time, object any) ([]byte, error) {
	data, err := json.Marshal(object)
	if err != nil {
		return nil, fmt.Errorf("payments: marshal event object: %w", err)
	}
	body := map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"created":     created.Unix(),
		"api_version": "2023-10-16",
		"data":        map[string]json.RawMessage{"object": data},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("payments: marshal event: %w", err)
	}
	return payload, nil
}

package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/google/uuid"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{FromEmail: "test@example.com"}, nil)
	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "test@example.com"}, nil)
	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != defaultFromName {
		t.Errorf("expected default from name %q, got %q", defaultFromName, sender.fromName)
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{}
	err := sender.Send(context.Background(), EmailMessage{To: "recipient@example.com", Subject: "Test", Body: "Test body"})
	if err == nil {
		t.Error("expected error when client is nil")
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSenderBuildsMessage(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "noreply@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{To: "payer@example.com", Subject: "Hi", Body: "text", HTML: "<p>html</p>", Category: "booking_confirmed"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := aws.ToString(client.input.FromEmailAddress); got != "Bookings <noreply@example.com>" {
		t.Fatalf("unexpected from address %q", got)
	}
	if got := client.input.Destination.ToAddresses; len(got) != 1 || got[0] != "payer@example.com" {
		t.Fatalf("unexpected destination %v", got)
	}
	if client.input.Content.Simple.Body.Html == nil || client.input.Content.Simple.Body.Text == nil {
		t.Fatal("expected both text and html bodies")
	}
	if tags := client.input.EmailTags; len(tags) != 1 || aws.ToString(tags[0].Value) != "booking_confirmed" {
		t.Fatalf("expected category tag, got %v", tags)
	}

	client.err = errors.New("throttled")
	if err := sender.Send(context.Background(), EmailMessage{To: "payer@example.com"}); err == nil {
		t.Fatal("expected SES error to propagate")
	}
}

type recordingSender struct {
	sent []EmailMessage
}

func (r *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	r.sent = append(r.sent, msg)
	return nil
}

func TestEmailNotifier(t *testing.T) {
	sender := &recordingSender{}
	n := NewEmailNotifier(sender, nil)
	start := time.Date(2026, 7, 1, 15, 0, 0, 0, time.UTC)

	if err := n.NotifyBookingConfirmed(context.Background(), BookingConfirmed{
		BookingID:    uuid.New(),
		StartsAt:     start,
		EndsAt:       start.Add(time.Hour),
		PayerContact: "Pat <pat@example.com>",
		AmountCents:  12345,
		Currency:     "usd",
	}); err != nil {
		t.Fatalf("confirmed: %v", err)
	}
	if err := n.NotifyBookingRefunded(context.Background(), BookingRefunded{
		ReservationID: uuid.New(),
		PayerContact:  "+15550100",
		AmountCents:   500,
	}); err != nil {
		t.Fatalf("refunded: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected one email (phone contact skipped), got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "pat@example.com" {
		t.Fatalf("unexpected recipient %q", msg.To)
	}
	if !strings.Contains(msg.Body, "123.45 USD") {
		t.Fatalf("expected formatted amount in body: %s", msg.Body)
	}
}

func TestDescribeConflict(t *testing.T) {
	if got := describeConflict("blocked_date"); !strings.Contains(got, "date") {
		t.Fatalf("unexpected description %q", got)
	}
	if got := describeConflict("mystery"); got == "" {
		t.Fatal("expected fallback description")
	}
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Message types published to the notification queue.
const (
	MessageBookingConfirmed = "booking.confirmed"
	MessageBookingRefunded  = "booking.refunded"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher hands notifications to a downstream delivery service through
// an SQS queue. The message type travels as a message attribute.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
}

func NewSQSPublisher(client sqsAPI, queueURL string) *SQSPublisher {
	if client == nil {
		panic("notify: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("notify: SQS queueURL cannot be empty")
	}
	return &SQSPublisher{client: client, queueURL: queueURL}
}

func (p *SQSPublisher) NotifyBookingConfirmed(ctx context.Context, n BookingConfirmed) error {
	return p.publish(ctx, MessageBookingConfirmed, n.BookingID.String(), n)
}

func (p *SQSPublisher) NotifyBookingRefunded(ctx context.Context, n BookingRefunded) error {
	return p.publish(ctx, MessageBookingRefunded, n.ReservationID.String(), n)
}

func (p *SQSPublisher) publish(ctx context.Context, messageType, subject string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", messageType, err)
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type":    {DataType: aws.String("String"), StringValue: aws.String(messageType)},
			"subject": {DataType: aws.String("String"), StringValue: aws.String(subject)},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: failed to send SQS message: %w", err)
	}
	return nil
}

package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/bookingcore/internal/config"
	"github.com/wolfman30/bookingcore/internal/notify"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

// BuildNotifier fans booking outcomes out to every configured channel: the
// SQS queue, then email (SendGrid preferred over SES). With nothing
// configured outcomes are only logged. awsCfg may be nil when no AWS
// channel is configured.
func BuildNotifier(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	var channels notify.Multi

	if queueURL := strings.TrimSpace(cfg.NotifyQueueURL); queueURL != "" && awsCfg != nil {
		channels = append(channels, notify.NewSQSPublisher(sqs.NewFromConfig(*awsCfg), queueURL))
		logger.Info("booking notifications published to queue", "queue_url", queueURL)
	}

	if sender := buildEmailSender(cfg, awsCfg, logger); sender != nil {
		channels = append(channels, notify.NewEmailNotifier(sender, logger))
	}

	if len(channels) == 0 {
		logger.Info("no notification channel configured, outcomes are logged only")
		return notify.NewLogNotifier(logger)
	}
	return channels
}

func buildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		logger.Info("email notifications via sendgrid", "from", cfg.SendGridFromEmail)
		return sg
	}
	if from := strings.TrimSpace(cfg.SESFromEmail); from != "" && awsCfg != nil {
		logger.Info("email notifications via ses", "from", from)
		return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail: from,
			FromName:  cfg.SendGridFromName,
		}, logger)
	}
	return nil
}

package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"

	"scam-call-guard/internal/observability/logging"
	"scam-call-guard/internal/observability/metrics"
	"scam-call-guard/internal/service/assessment"
)

// ChannelID is the Android notification channel for scam alerts.
const ChannelID = "scam_alerts"

type sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier sends alerts through Firebase Cloud Messaging.
type FCMNotifier struct {
	client  sender
	timeout time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewFCMNotifier creates a notifier from an initialised Firebase app.
func NewFCMNotifier(ctx context.Context, app *firebase.App, timeout time.Duration) (*FCMNotifier, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init messaging client: %w", err)
	}
	return newFCMNotifier(client, timeout), nil
}

func newFCMNotifier(client sender, timeout time.Duration) *FCMNotifier {
	return &FCMNotifier{
		client:  client,
		timeout: timeout,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("notify.fcm"),
	}
}

// Notify sends the alert to alert.Token, bounded by the notifier timeout.
func (n *FCMNotifier) Notify(ctx context.Context, alert Alert) error {
	if alert.Token == "" {
		n.metrics.RecordNotification(ErrMissingToken)
		return ErrMissingToken
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	id, err := n.client.Send(ctx, buildMessage(alert))
	n.metrics.RecordNotification(err)
	if err != nil {
		n.logger.Error().
			Err(err).
			Str("callId", alert.CallID).
			Int("score", alert.Score).
			Msg("Failed to send notification")
		return fmt.Errorf("send fcm message: %w", err)
	}

	n.logger.Info().
		Str("messageId", id).
		Str("callId", alert.CallID).
		Str("category", alert.Category.Label).
		Int("score", alert.Score).
		Msg("Notification sent")
	return nil
}

func buildMessage(alert Alert) *messaging.Message {
	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	cat := alert.Category
	title := fmt.Sprintf("%s %s", cat.Emoji, cat.Label)
	body := fmt.Sprintf("%s\nScore: %d/10", alert.Label, alert.Score)

	return &messaging.Message{
		Token: alert.Token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"call_id":      alert.CallID,
			"phone_number": alert.PhoneNumber,
			"score":        strconv.Itoa(alert.Score),
			"response":     alert.Label,
			"category":     cat.Label,
			"timestamp":    ts.Format(time.RFC3339),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Title:               title,
				Body:                body,
				Color:               cat.Color,
				ChannelID:           ChannelID,
				Priority:            androidPriority(cat.Priority),
				VibrateTimingMillis: cat.Vibration,
				Visibility:          messaging.VisibilityPublic,
			},
		},
	}
}

func androidPriority(p assessment.Priority) messaging.AndroidNotificationPriority {
	switch p {
	case assessment.PriorityMax:
		return messaging.PriorityMax
	case assessment.PriorityHigh:
		return messaging.PriorityHigh
	default:
		return messaging.PriorityDefault
	}
}

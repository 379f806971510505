// Package notify delivers scam alerts to the user's device.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"scam-call-guard/internal/observability/logging"
	"scam-call-guard/internal/service/assessment"
)

// ErrMissingToken is returned when an alert has no destination device token.
var ErrMissingToken = errors.New("missing destination token")

// Alert is one notification about an assessed call.
type Alert struct {
	Token       string
	CallID      string
	PhoneNumber string
	Score       int
	Label       string
	Category    assessment.Category
	Timestamp   time.Time
}

// Notifier sends alerts.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log instead of sending them.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier returns a notifier used when push delivery is disabled.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logging.WithComponent("notify.log")}
}

// Notify logs the alert.
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.logger.Info().
		Str("callId", alert.CallID).
		Str("phoneNumber", alert.PhoneNumber).
		Int("score", alert.Score).
		Str("category", alert.Category.Label).
		Str("response", alert.Label).
		Msg("Scam alert (notifications disabled)")
	return nil
}

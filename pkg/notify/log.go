package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes alerts through structured logging. It is the default
// notifier: every deployment gets alerts in its log stream even when no
// external notification channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs through logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the event at a level matching its severity.
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	if event.Severity == "critical" {
		n.logger.ErrorContext(ctx, "alert", "severity", event.Severity, "message", event.Message)
	} else {
		n.logger.InfoContext(ctx, "alert", "severity", event.Severity, "message", event.Message)
	}
	return nil
}

package notification

import (
	"context"
	"log/slog"
)

// Notifier delivers operator alerts for conditions the gateway cannot
// recover from on its own, such as a permanently stopped carrier session.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// LogNotifier writes alerts to the structured log. Deployments with a
// paging integration replace this with their own implementation.
type LogNotifier struct{}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(ctx context.Context, subject, body string) error {
	slog.ErrorContext(ctx, "OPERATOR ALERT",
		slog.String("subject", subject),
		slog.String("body", body),
	)
	return nil
}

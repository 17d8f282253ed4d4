package email

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of delivering them. Used for
// local development, where the link in the text body is copied by hand.
type LogSender struct {
	log *slog.Logger
}

// NewLogSender creates a sender that logs to logger
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{log: logger.With(slog.String("component", "email"))}
}

// Send implements Sender
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "email not delivered (log driver)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("tag", msg.Tag),
		slog.String("text", msg.Text))
	return nil
}

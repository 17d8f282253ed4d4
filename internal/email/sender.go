// Package email delivers transactional messages: verification links,
// password reset links and the unsubscribe footer.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/devilmonastery/gatehouse/internal/config"
)

var (
	// ErrInvalidConfig is returned when a sender cannot be built from configuration
	ErrInvalidConfig = errors.New("invalid email configuration")
	// ErrInvalidMessage is returned for messages missing a recipient, subject or body
	ErrInvalidMessage = errors.New("invalid email message")
	// ErrSendFailed is returned when the delivery service rejects a message
	ErrSendFailed = errors.New("failed to send email")
)

// Sender delivers a single message
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is one outbound email
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	Tag     string // template name, used for delivery-service stats and metrics
}

// Validate checks the fields every sender needs
func (m Message) Validate() error {
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: recipient: %v", ErrInvalidMessage, err)
	}
	if m.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	if m.HTML == "" && m.Text == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	return nil
}

// NewSender builds the sender selected by cfg.Driver
func NewSender(cfg config.EmailConfig) (Sender, error) {
	switch cfg.Driver {
	case "postmark":
		return NewPostmarkSender(cfg)
	case "log", "":
		return NewLogSender(slog.Default()), nil
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/mrz1836/postmark"

	"github.com/devilmonastery/gatehouse/internal/config"
)

// PostmarkSender sends through Postmark's transactional API
type PostmarkSender struct {
	client  *postmark.Client
	from    string
	replyTo string
}

// NewPostmarkSender creates a Postmark-backed sender
func NewPostmarkSender(cfg config.EmailConfig) (*PostmarkSender, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if _, err := mail.ParseAddress(cfg.SenderEmail); err != nil {
		return nil, fmt.Errorf("%w: sender email: %v", ErrInvalidConfig, err)
	}
	if cfg.SupportEmail != "" {
		if _, err := mail.ParseAddress(cfg.SupportEmail); err != nil {
			return nil, fmt.Errorf("%w: support email: %v", ErrInvalidConfig, err)
		}
	}

	return &PostmarkSender{
		client:  postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:    cfg.SenderEmail,
		replyTo: cfg.SupportEmail,
	}, nil
}

// Send implements Sender. Link tracking stays off: the links carry single-use tokens.
func (s *PostmarkSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:     s.from,
		ReplyTo:  s.replyTo,
		To:       msg.To,
		Subject:  msg.Subject,
		Tag:      msg.Tag,
		HTMLBody: msg.HTML,
		TextBody: msg.Text,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}

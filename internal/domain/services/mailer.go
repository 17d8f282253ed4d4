package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/devilmonastery/gatehouse/internal/email"
	"github.com/devilmonastery/gatehouse/internal/pkg/metrics"
)

const emailSendTimeout = 30 * time.Second

// Mailer renders templates and delivers them in the background. Delivery
// failures are logged and never reach the flow that triggered the email.
type Mailer struct {
	sender   email.Sender
	renderer *email.Renderer
	log      *slog.Logger
	wg       sync.WaitGroup
}

// NewMailer creates a mailer
func NewMailer(sender email.Sender, renderer *email.Renderer) *Mailer {
	return &Mailer{
		sender:   sender,
		renderer: renderer,
		log:      slog.Default().With(slog.String("component", "mailer")),
	}
}

// Send queues template for delivery to to. The send outlives ctx's
// cancellation but keeps its values.
func (m *Mailer) Send(ctx context.Context, template, to string, data email.Data) {
	msg, err := m.renderer.Render(template, to, data)
	if err != nil {
		metrics.RecordEmail(template, err)
		m.log.ErrorContext(ctx, "failed to render email", slog.String("template", template), slog.String("error", err.Error()))
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emailSendTimeout)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		err := m.sender.Send(sendCtx, msg)
		metrics.RecordEmail(template, err)
		if err != nil {
			m.log.WarnContext(sendCtx, "failed to send email",
				slog.String("template", template),
				slog.String("error", err.Error()))
			return
		}
		m.log.DebugContext(sendCtx, "email sent", slog.String("template", template))
	}()
}

// Wait blocks until queued emails are sent or have failed
func (m *Mailer) Wait() {
	m.wg.Wait()
}

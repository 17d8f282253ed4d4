package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/gatehouse/internal/config"
)

func TestRenderer_VerifyEmail(t *testing.T) {
	r, err := NewRenderer("Gatehouse")
	require.NoError(t, err)

	msg, err := r.Render(TemplateVerifyEmail, "ada@example.com", Data{
		Name:      "Ada <script>",
		Link:      "https://app.example.com/verify-email?token=abc",
		ExpiresIn: FormatExpiry(24 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, "Confirm your email address", msg.Subject)
	assert.Equal(t, TemplateVerifyEmail, msg.Tag)
	assert.Contains(t, msg.Text, "https://app.example.com/verify-email?token=abc")
	assert.Contains(t, msg.Text, "24 hours")
	assert.Contains(t, msg.HTML, "Ada &lt;script&gt;")
	assert.NotContains(t, msg.Text, "Unsubscribe")
	assert.NoError(t, msg.Validate())
}

func TestRenderer_FooterUnsubscribe(t *testing.T) {
	r, err := NewRenderer("Gatehouse")
	require.NoError(t, err)

	msg, err := r.Render(TemplatePasswordChanged, "ada@example.com", Data{
		Name:           "Ada",
		UnsubscribeURL: "https://app.example.com/unsubscribe?token=xyz",
	})
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "Unsubscribe from these emails: https://app.example.com/unsubscribe?token=xyz")
	assert.Contains(t, msg.HTML, `href="https://app.example.com/unsubscribe?token=xyz"`)

	_, err = r.Render("welcome", "ada@example.com", Data{})
	assert.Error(t, err)
}

func TestFormatExpiry(t *testing.T) {
	tests := map[time.Duration]string{
		time.Hour:            "1 hour",
		24 * time.Hour:       "24 hours",
		365 * 24 * time.Hour: "365 days",
		10 * time.Minute:     "10 minutes",
	}
	for d, want := range tests {
		assert.Equal(t, want, FormatExpiry(d), d.String())
	}
}

func TestMessage_Validate(t *testing.T) {
	assert.ErrorIs(t, Message{To: "not an address", Subject: "s", Text: "t"}.Validate(), ErrInvalidMessage)
	assert.ErrorIs(t, Message{To: "a@example.com", Text: "t"}.Validate(), ErrInvalidMessage)
	assert.ErrorIs(t, Message{To: "a@example.com", Subject: "s"}.Validate(), ErrInvalidMessage)
}

func TestNewSender(t *testing.T) {
	s, err := NewSender(config.EmailConfig{Driver: "log"})
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, s)

	_, err = NewSender(config.EmailConfig{Driver: "postmark", SenderEmail: "no-reply@example.com"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSender(config.EmailConfig{Driver: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPostmarkSender_Send(t *testing.T) {
	var got postmark.Email
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		if got.To == "bounced@example.com" {
			_, _ = w.Write([]byte(`{"ErrorCode":406,"Message":"Inactive recipient"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ErrorCode":0,"Message":"OK","MessageID":"m-1"}`))
	}))
	defer srv.Close()

	s, err := NewPostmarkSender(config.EmailConfig{
		PostmarkServerToken: "server-token",
		SenderEmail:         "no-reply@example.com",
		SupportEmail:        "support@example.com",
	})
	require.NoError(t, err)
	s.client.BaseURL = srv.URL

	msg := Message{To: "ada@example.com", Subject: "Hello", HTML: "<p>hi</p>", Text: "hi", Tag: TemplateVerifyEmail}
	require.NoError(t, s.Send(context.Background(), msg))
	assert.Equal(t, "no-reply@example.com", got.From)
	assert.Equal(t, "support@example.com", got.ReplyTo)
	assert.Equal(t, TemplateVerifyEmail, got.Tag)
	assert.Equal(t, "hi", got.TextBody)

	msg.To = "bounced@example.com"
	assert.ErrorIs(t, s.Send(context.Background(), msg), ErrSendFailed)
}

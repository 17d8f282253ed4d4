package email

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*
var templateFS embed.FS

// Template names, also used as the message tag
const (
	TemplateVerifyEmail     = "verify_email"
	TemplatePasswordReset   = "password_reset"
	TemplatePasswordChanged = "password_changed"
)

var subjects = map[string]string{
	TemplateVerifyEmail:     "Confirm your email address",
	TemplatePasswordReset:   "Reset your password",
	TemplatePasswordChanged: "Your password was changed",
}

// Data is the input of every template
type Data struct {
	Name           string
	Link           string
	ExpiresIn      string
	UnsubscribeURL string
	Product        string
}

// Renderer turns template data into messages
type Renderer struct {
	product string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

// NewRenderer parses the embedded templates
func NewRenderer(product string) (*Renderer, error) {
	html, err := htmltemplate.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse html templates: %w", err)
	}
	text, err := texttemplate.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to parse text templates: %w", err)
	}
	return &Renderer{product: product, html: html, text: text}, nil
}

// Render builds the message for template name addressed to to
func (r *Renderer) Render(name, to string, data Data) (Message, error) {
	subject, ok := subjects[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown email template %q", name)
	}
	data.Product = r.product

	var html, text bytes.Buffer
	if err := r.html.ExecuteTemplate(&html, name+".html", data); err != nil {
		return Message{}, fmt.Errorf("failed to render %s html: %w", name, err)
	}
	if err := r.text.ExecuteTemplate(&text, name+".txt", data); err != nil {
		return Message{}, fmt.Errorf("failed to render %s text: %w", name, err)
	}

	return Message{
		To:      to,
		Subject: subject,
		HTML:    html.String(),
		Text:    text.String(),
		Tag:     name,
	}, nil
}

// FormatExpiry renders a token lifetime for humans ("1 hour", "24 hours", "10 minutes")
func FormatExpiry(d time.Duration) string {
	switch {
	case d >= 48*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%d days", d/(24*time.Hour))
	case d == time.Hour:
		return "1 hour"
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d == time.Minute:
		return "1 minute"
	default:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	}
}

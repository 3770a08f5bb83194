// Package mailx sends transactional email. The email queue handler drives
// it; providers live in subpackages so the worker can run against SES in
// production and a log sink in development.
package mailx

import (
	"context"

	"github.com/Abraxas-365/recibo/pkg/errx"
)

var mailErrors = errx.NewRegistry("MAILX")

var (
	ErrInvalidMessage = mailErrors.Register("INVALID_MESSAGE", errx.TypeValidation, 400, "Invalid email message")
	ErrSendFailed     = mailErrors.Register("SEND_FAILED", errx.TypeExternal, 502, "Email send failed")
	ErrTemplate       = mailErrors.Register("TEMPLATE", errx.TypeInternal, 500, "Email template error")
)

// Message is an outgoing email.
type Message struct {
	From        string       `json:"from"`
	To          []string     `json:"to"`
	ReplyTo     string       `json:"reply_to,omitempty"`
	Subject     string       `json:"subject"`
	TextBody    string       `json:"text_body,omitempty"`
	HTMLBody    string       `json:"html_body,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is an email attachment. Data never round-trips through JSON.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Client validates messages, renders templates and hands delivery to the
// configured provider.
type Client struct {
	provider  Sender
	templates *TemplateRegistry
}

// NewClient creates a mail client on a provider.
func NewClient(provider Sender) *Client {
	return &Client{provider: provider, templates: NewTemplateRegistry()}
}

// Send validates and delivers a message.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return mailErrors.NewWithMessage(ErrInvalidMessage, "no recipients")
	}
	if msg.Subject == "" {
		return mailErrors.NewWithMessage(ErrInvalidMessage, "empty subject")
	}
	return c.provider.Send(ctx, msg)
}

// RegisterTemplate parses and stores a named HTML template.
func (c *Client) RegisterTemplate(name, tmpl string) error {
	return c.templates.Register(name, tmpl)
}

// SendTemplated renders a registered template into the HTML body and sends.
func (c *Client) SendTemplated(ctx context.Context, templateName string, data any, msg Message) error {
	body, err := c.templates.Render(templateName, data)
	if err != nil {
		return err
	}
	msg.HTMLBody = body
	return c.Send(ctx, msg)
}

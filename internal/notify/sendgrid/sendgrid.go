// Package sendgrid delivers notifications through the SendGrid v3 mail API.
package sendgrid

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sendgrid/rest"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/notify"
)

// SenderName is the display name on outgoing mail.
const SenderName = "Pipeline Monitor"

type sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Sink sends mail with a SendGrid API key.
type Sink struct {
	client sender
	logger *zap.Logger
	now    func() time.Time
}

// New creates a SendGrid sink.
func New(apiKey string, logger *zap.Logger) (*Sink, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required for sendgrid notifications")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{client: sg.NewSendClient(apiKey), logger: logger, now: time.Now}, nil
}

func (s *Sink) Name() string { return "sendgrid" }

// Send delivers n as from.
func (s *Sink) Send(ctx context.Context, n notify.EmailNotification, from string) (notify.NotificationResult, error) {
	resp, err := s.client.SendWithContext(ctx, BuildMail(n, from))
	if err != nil {
		return notify.NotificationResult{}, fmt.Errorf("failed to send mail: %w", err)
	}
	if resp.StatusCode >= 300 {
		return notify.NotificationResult{}, fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}

	id := n.NotificationID
	if v := resp.Headers["X-Message-Id"]; len(v) > 0 {
		id = v[0]
	}
	sent := s.now().UTC()
	return notify.NotificationResult{MessageID: id, SentAt: &sent}, nil
}

// Draft is not available through the mail send API.
func (s *Sink) Draft(context.Context, notify.EmailNotification, string) (notify.NotificationResult, error) {
	return notify.NotificationResult{}, notify.ErrDraftUnsupported
}

// BuildMail converts a notification into a v3 mail with a single
// personalization carrying every recipient.
func BuildMail(n notify.EmailNotification, from string) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(SenderName, from))
	m.Subject = n.Subject

	p := mail.NewPersonalization()
	for _, r := range n.Recipients {
		e := mail.NewEmail(r.Name, r.Email)
		switch r.Type {
		case notify.RecipientCc:
			p.AddCCs(e)
		case notify.RecipientBcc:
			p.AddBCCs(e)
		default:
			p.AddTos(e)
		}
	}
	p.SetCustomArg("notification_id", n.NotificationID)
	m.AddPersonalizations(p)

	m.AddContent(mail.NewContent("text/html", n.Body))
	for _, a := range n.Attachments {
		att := mail.NewAttachment()
		att.SetFilename(a.Name)
		att.SetType(a.ContentType)
		att.SetContent(base64.StdEncoding.EncodeToString(a.Content))
		att.SetDisposition("attachment")
		m.AddAttachment(att)
	}
	if n.Priority == notify.PriorityUrgent || n.Priority == notify.PriorityHigh {
		m.SetHeader("X-Priority", "1")
		m.SetHeader("Importance", "high")
	}
	return m
}

// Package graph delivers notifications through Microsoft Graph mail.
package graph

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/alphauslabs/pipewatch/internal/notify"
	"github.com/alphauslabs/pipewatch/internal/platform/transport"
)

const (
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	Scope          = "https://graph.microsoft.com/.default"
)

// Config holds the Azure AD application used to send mail.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// TokenURL overrides the tenant token endpoint.
	TokenURL string

	// BaseURL overrides the Graph endpoint.
	BaseURL string

	Timeout    time.Duration
	MaxRetries int
}

// Sink sends and drafts mail as a mailbox user.
type Sink struct {
	client *transport.Client
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Graph mail sink.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("tenant_id, client_id and client_secret are required for graph notifications")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{Scope},
	}
	client, err := transport.New(transport.Config{
		Name:       "graph_mail",
		BaseURL:    baseURL,
		HTTPClient: cc.Client(ctx),
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph client: %w", err)
	}
	return &Sink{client: client, logger: logger, now: time.Now}, nil
}

func (s *Sink) Name() string { return "graph" }

// Send posts to users/{from}/sendMail. Graph returns no message id for
// sent mail, so the notification id is reported instead.
func (s *Sink) Send(ctx context.Context, n notify.EmailNotification, from string) (notify.NotificationResult, error) {
	body := map[string]any{
		"message":         BuildMessage(n),
		"saveToSentItems": true,
	}
	if err := s.client.PostJSON(ctx, userPath(from, "sendMail"), body, nil); err != nil {
		return notify.NotificationResult{}, fmt.Errorf("failed to send mail: %w", err)
	}
	sent := s.now().UTC()
	return notify.NotificationResult{MessageID: n.NotificationID, SentAt: &sent}, nil
}

// Draft creates the message in from's drafts folder.
func (s *Sink) Draft(ctx context.Context, n notify.EmailNotification, from string) (notify.NotificationResult, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := s.client.PostJSON(ctx, userPath(from, "messages"), BuildMessage(n), &resp); err != nil {
		return notify.NotificationResult{}, fmt.Errorf("failed to create draft: %w", err)
	}
	return notify.NotificationResult{MessageID: resp.ID}, nil
}

func userPath(from, action string) string {
	return fmt.Sprintf("users/%s/%s", url.PathEscape(from), action)
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type fileAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// Message is the Graph message resource.
type Message struct {
	Subject       string           `json:"subject"`
	Body          itemBody         `json:"body"`
	ToRecipients  []recipient      `json:"toRecipients"`
	CcRecipients  []recipient      `json:"ccRecipients,omitempty"`
	BccRecipients []recipient      `json:"bccRecipients,omitempty"`
	Importance    string           `json:"importance"`
	Attachments   []fileAttachment `json:"attachments,omitempty"`
}

// BuildMessage converts a notification into a Graph message.
func BuildMessage(n notify.EmailNotification) Message {
	m := Message{
		Subject:      n.Subject,
		Body:         itemBody{ContentType: ContentType(n.Body), Content: n.Body},
		ToRecipients: []recipient{},
		Importance:   Importance(n.Priority),
	}
	for _, r := range n.Recipients {
		rc := recipient{EmailAddress: emailAddress{Address: r.Email, Name: r.Name}}
		switch r.Type {
		case notify.RecipientCc:
			m.CcRecipients = append(m.CcRecipients, rc)
		case notify.RecipientBcc:
			m.BccRecipients = append(m.BccRecipients, rc)
		default:
			m.ToRecipients = append(m.ToRecipients, rc)
		}
	}
	for _, a := range n.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		m.Attachments = append(m.Attachments, fileAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         a.Name,
			ContentType:  ct,
			ContentBytes: base64.StdEncoding.EncodeToString(a.Content),
		})
	}
	return m
}

// ContentType is "HTML" for bodies containing an <html> tag, else "Text".
func ContentType(body string) string {
	if strings.Contains(strings.ToLower(body), "<html>") {
		return "HTML"
	}
	return "Text"
}

// Importance maps a notification priority to Graph importance.
func Importance(p notify.Priority) string {
	switch p {
	case notify.PriorityUrgent, notify.PriorityHigh:
		return "high"
	case notify.PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

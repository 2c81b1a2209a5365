// Package notify decides whether a monitoring cycle warrants a message,
// renders it, and hands it to a delivery sink.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority is the delivery urgency of a notification.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Mode records how a notification was handled.
type Mode string

const (
	ModeSend    Mode = "send"
	ModeDraft   Mode = "draft"
	ModePreview Mode = "preview"
)

// Recipient types.
const (
	RecipientTo  = "to"
	RecipientCc  = "cc"
	RecipientBcc = "bcc"
)

// PreviewMessageID is reported when no sender address is configured.
const PreviewMessageID = "preview_only"

// Recipient is one addressee.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Type  string `json:"type"`
}

// Attachment is a file carried with the notification.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// EmailNotification is a rendered message ready for a sink.
type EmailNotification struct {
	NotificationID string         `json:"notification_id"`
	Recipients     []Recipient    `json:"recipients"`
	Subject        string         `json:"subject"`
	Body           string         `json:"body"`
	Priority       Priority       `json:"priority"`
	TemplateKey    TemplateKey    `json:"template_key"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NotificationResult is the outcome of one delivery attempt.
type NotificationResult struct {
	NotificationID  string     `json:"notification_id"`
	Success         bool       `json:"success"`
	MessageID       string     `json:"message_id,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
	RecipientsCount int        `json:"recipients_count"`
	Mode            Mode       `json:"mode"`
}

// NewNotificationID returns notif_{monitoringID}_{8 hex}, unique per attempt.
func NewNotificationID(monitoringID string) string {
	return fmt.Sprintf("notif_%s_%s", monitoringID, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// BuildNotification assembles a notification from a rendered message.
func BuildNotification(monitoringID string, r Rendered, recipients []Recipient, metadata map[string]any, now time.Time) EmailNotification {
	meta := map[string]any{"monitoring_id": monitoringID}
	for k, v := range metadata {
		meta[k] = v
	}
	return EmailNotification{
		NotificationID: NewNotificationID(monitoringID),
		Recipients:     recipients,
		Subject:        r.Subject,
		Body:           r.Body,
		Priority:       r.Priority,
		TemplateKey:    r.TemplateKey,
		Metadata:       meta,
		CreatedAt:      now.UTC(),
	}
}

// ParseRecipients turns a list of addresses into "to" recipients, dropping
// blanks and duplicates. Entries may themselves be comma separated.
func ParseRecipients(addrs []string) []Recipient {
	seen := map[string]bool{}
	var out []Recipient
	for _, a := range addrs {
		for _, part := range strings.Split(a, ",") {
			email := strings.TrimSpace(part)
			key := strings.ToLower(email)
			if email == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Recipient{Email: email, Type: RecipientTo})
		}
	}
	return out
}

// Package slack posts a plain-text digest of a notification to an incoming
// webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/notify"
)

// Sink posts to one Slack incoming webhook.
type Sink struct {
	webhookURL string
	http       *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a webhook sink.
func New(webhookURL string, timeout time.Duration, logger *zap.Logger) (*Sink, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("webhook url is required for slack notifications")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		webhookURL: webhookURL,
		http:       &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *Sink) Name() string { return "slack" }

// Send posts the digest. The sender address is not used by webhooks.
func (s *Sink) Send(ctx context.Context, n notify.EmailNotification, _ string) (notify.NotificationResult, error) {
	payload, err := json.Marshal(map[string]string{"text": Digest(n)})
	if err != nil {
		return notify.NotificationResult{}, fmt.Errorf("failed to encode slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return notify.NotificationResult{}, fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return notify.NotificationResult{}, fmt.Errorf("failed to post slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return notify.NotificationResult{}, fmt.Errorf("slack API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	sent := s.now().UTC()
	return notify.NotificationResult{MessageID: n.NotificationID, SentAt: &sent}, nil
}

// Draft is not available for webhooks.
func (s *Sink) Draft(context.Context, notify.EmailNotification, string) (notify.NotificationResult, error) {
	return notify.NotificationResult{}, notify.ErrDraftUnsupported
}

// Digest renders the notification as Slack mrkdwn text.
func Digest(n notify.EmailNotification) string {
	var b strings.Builder
	switch n.Priority {
	case notify.PriorityUrgent:
		b.WriteString(":rotating_light: ")
	case notify.PriorityHigh:
		b.WriteString(":warning: ")
	}
	fmt.Fprintf(&b, "*%s*\n", n.Subject)
	if id, ok := n.Metadata["monitoring_id"]; ok {
		fmt.Fprintf(&b, "Monitoring session: `%v`\n", id)
	}
	if risk, ok := n.Metadata["risk_level"]; ok {
		fmt.Fprintf(&b, "Risk level: %v\n", risk)
	}
	if issues, ok := n.Metadata["critical_issues"].([]string); ok && len(issues) > 0 {
		b.WriteString("\nIssues:\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "• %s\n", issue)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

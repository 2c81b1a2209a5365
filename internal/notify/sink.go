package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrDraftUnsupported is returned by sinks that cannot save drafts.
var ErrDraftUnsupported = errors.New("draft is not supported by this provider")

// Sink delivers notifications through one provider.
type Sink interface {
	// Name identifies the provider in logs and results.
	Name() string

	// Send delivers the notification immediately as from.
	Send(ctx context.Context, n EmailNotification, from string) (NotificationResult, error)

	// Draft saves the notification unsent in from's mailbox.
	Draft(ctx context.Context, n EmailNotification, from string) (NotificationResult, error)
}

// Dispatcher routes notifications to a sink. Nothing is retried here;
// retries belong to the sink's transport.
type Dispatcher struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher. sink may be nil, in which case every
// delivery degrades to a preview.
func NewDispatcher(sink Sink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{sink: sink, logger: logger, now: time.Now}
}

// Deliver sends or drafts n. Without a sender address or a sink the
// notification is not delivered and a successful preview is reported.
func (d *Dispatcher) Deliver(ctx context.Context, n EmailNotification, from string, draft bool) NotificationResult {
	if strings.TrimSpace(from) == "" || d.sink == nil {
		d.logger.Info("no sender configured, returning notification preview",
			zap.String("notification_id", n.NotificationID))
		return NotificationResult{
			NotificationID:  n.NotificationID,
			Success:         true,
			MessageID:       PreviewMessageID,
			RecipientsCount: len(n.Recipients),
			Mode:            ModePreview,
		}
	}

	mode := ModeSend
	deliver := d.sink.Send
	if draft {
		mode = ModeDraft
		deliver = d.sink.Draft
	}

	res, err := deliver(ctx, n, from)
	if err != nil {
		d.logger.Error("failed to deliver notification",
			zap.String("sink", d.sink.Name()), zap.String("mode", string(mode)),
			zap.String("notification_id", n.NotificationID), zap.Error(err))
		return NotificationResult{
			NotificationID:  n.NotificationID,
			Success:         false,
			ErrorMessage:    err.Error(),
			RecipientsCount: len(n.Recipients),
			Mode:            mode,
		}
	}

	res.NotificationID = n.NotificationID
	res.Success = true
	res.Mode = mode
	res.RecipientsCount = len(n.Recipients)
	if res.SentAt == nil && mode == ModeSend {
		t := d.now().UTC()
		res.SentAt = &t
	}
	d.logger.Info("notification delivered",
		zap.String("sink", d.sink.Name()), zap.String("mode", string(mode)),
		zap.String("message_id", res.MessageID), zap.Int("recipients", res.RecipientsCount))
	return res
}

// MultiSink fans a notification out to several sinks. Every sink is tried;
// the first failure is reported.
type MultiSink []Sink

func (m MultiSink) Name() string {
	names := make([]string, 0, len(m))
	for _, s := range m {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}

func (m MultiSink) Send(ctx context.Context, n EmailNotification, from string) (NotificationResult, error) {
	return m.each(func(s Sink) (NotificationResult, error) { return s.Send(ctx, n, from) })
}

func (m MultiSink) Draft(ctx context.Context, n EmailNotification, from string) (NotificationResult, error) {
	return m.each(func(s Sink) (NotificationResult, error) { return s.Draft(ctx, n, from) })
}

func (m MultiSink) each(fn func(Sink) (NotificationResult, error)) (NotificationResult, error) {
	var (
		first    NotificationResult
		firstErr error
		ids      []string
	)
	for _, s := range m {
		res, err := fn(s)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", s.Name(), err)
			}
			continue
		}
		if first.SentAt == nil {
			first.SentAt = res.SentAt
		}
		if res.MessageID != "" {
			ids = append(ids, res.MessageID)
		}
	}
	first.MessageID = strings.Join(ids, ",")
	return first, firstErr
}

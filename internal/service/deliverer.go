package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/salesops/notify-relay/internal/dispatch"
	"github.com/salesops/notify-relay/internal/domain"
	"github.com/salesops/notify-relay/internal/observability"
	"github.com/salesops/notify-relay/internal/payload"
	"github.com/salesops/notify-relay/internal/ratelimit"
	"github.com/salesops/notify-relay/internal/repository"
	"go.uber.org/zap"
)

// ChatSender delivers a direct message to a user's DM space.
type ChatSender interface {
	SendDM(ctx context.Context, userID, email, text string) dispatch.Result
}

// SlackSender posts a message to the configured Slack webhook.
type SlackSender interface {
	Send(ctx context.Context, text string) dispatch.Result
}

// WebhookSender POSTs a JSON body to an endpoint with bounded retries.
type WebhookSender interface {
	Dispatch(ctx context.Context, endpoint string, body any, opts ...dispatch.Option) dispatch.Result
}

// Deliverer finishes a claimed notification: it builds the wire payload,
// routes it to the channel sender and records the terminal outcome on the
// outbox row. Both the queue worker and the outbox scanner deliver through
// this type so the two paths cannot drift apart.
type Deliverer struct {
	outbox      repository.OutboxRepository
	builder     *payload.Builder
	chat        ChatSender
	slack       SlackSender
	webhook     WebhookSender
	webhookURL  string
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewDeliverer(
	outbox repository.OutboxRepository,
	builder *payload.Builder,
	chat ChatSender,
	slack SlackSender,
	webhook WebhookSender,
	webhookURL string,
	rateLimiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*Deliverer, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("payload builder is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Deliverer{
		outbox:      outbox,
		builder:     builder,
		chat:        chat,
		slack:       slack,
		webhook:     webhook,
		webhookURL:  strings.TrimSpace(webhookURL),
		rateLimiter: rateLimiter,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (d *Deliverer) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Deliver sends a notification that has already been claimed (SENDING) and
// settles the outbox row. Delivery failure is recorded on the row, not
// returned: only infrastructure errors (rate limiter, repository) propagate.
func (d *Deliverer) Deliver(ctx context.Context, notification *domain.Notification, correlationID string) error {
	if notification == nil {
		return fmt.Errorf("notification is required")
	}

	if correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	logger := observability.WithContextLogger(d.logger, ctx)

	channelName := strings.ToLower(notification.Channel.String())
	if d.metrics != nil {
		d.metrics.IncWorkerInFlight(channelName)
		defer d.metrics.DecWorkerInFlight(channelName)
	}

	envelope, err := d.builder.Build(notification, correlationID)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			// A payload that fails schema validation will never deliver;
			// record the failure and let the retry ceiling retire the row.
			return d.settleFailure(ctx, notification, channelName, err.Error())
		}
		return fmt.Errorf("failed to build payload: %w", err)
	}

	if err := d.rateLimiter.Wait(ctx, channelName); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	sendStart := d.now()
	result := d.send(ctx, notification, envelope)
	if d.metrics != nil {
		d.metrics.ObserveDispatchDuration(channelName, d.now().Sub(sendStart))
	}

	if result.Success {
		if err := d.outbox.MarkSent(ctx, notification.ID, d.now().UTC()); err != nil {
			return fmt.Errorf("failed to mark notification as sent: %w", err)
		}
		if d.metrics != nil {
			d.metrics.IncNotificationSent(channelName)
		}
		logger.Info("notification delivered",
			zap.String("notificationId", notification.ID),
			zap.String("channel", channelName),
			zap.Int("attempts", result.Attempts),
		)
		return nil
	}

	reason := failureReason(result)
	logger.Warn("notification delivery failed",
		zap.String("notificationId", notification.ID),
		zap.String("channel", channelName),
		zap.Int("attempts", result.Attempts),
		zap.Int("statusCode", result.StatusCode),
		zap.Error(result.Err),
	)
	return d.settleFailure(ctx, notification, channelName, reason)
}

func (d *Deliverer) send(ctx context.Context, notification *domain.Notification, envelope *payload.Envelope) dispatch.Result {
	switch notification.Channel {
	case domain.ChannelChat:
		if d.chat == nil {
			return dispatch.Result{Err: fmt.Errorf("chat sender is not configured")}
		}
		userID := ""
		if notification.RecipientUserID != nil {
			userID = *notification.RecipientUserID
		}
		return d.chat.SendDM(ctx, userID, notification.RecipientEmail, envelope.Summary())
	case domain.ChannelSlack:
		if d.slack == nil {
			return dispatch.Result{Err: fmt.Errorf("slack sender is not configured")}
		}
		return d.slack.Send(ctx, envelope.Summary())
	case domain.ChannelWebhook:
		if d.webhook == nil || d.webhookURL == "" {
			return dispatch.Result{Err: fmt.Errorf("webhook target is not configured")}
		}
		return d.webhook.Dispatch(ctx, d.webhookURL, envelope)
	default:
		return dispatch.Result{Err: fmt.Errorf("no sender for channel %q", notification.Channel)}
	}
}

// settleFailure records one delivery failure. Whether the row retires or
// reschedules is the repository's call; the metrics here only mirror it.
func (d *Deliverer) settleFailure(ctx context.Context, notification *domain.Notification, channelName, reason string) error {
	if err := d.outbox.MarkFailed(ctx, notification.ID, reason, d.now().UTC()); err != nil {
		return fmt.Errorf("failed to mark notification as failed: %w", err)
	}

	if d.metrics != nil {
		transition := domain.ApplyFailure(notification.Status, notification.RetryCount, d.now().UTC())
		if transition.Status == domain.StatusFailed {
			d.metrics.IncNotificationFailed(channelName, "retry_exhausted")
		} else {
			d.metrics.IncRetryScheduled(channelName)
		}
	}
	return nil
}

func failureReason(result dispatch.Result) string {
	if result.Err != nil {
		return result.Err.Error()
	}
	if result.StatusCode > 0 {
		return fmt.Sprintf("delivery failed with status %d", result.StatusCode)
	}
	return "delivery failed"
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/salesops/notify-relay/internal/domain"
	"github.com/salesops/notify-relay/internal/queue"
	"github.com/salesops/notify-relay/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NotificationService accepts notifications into the outbox and publishes
// immediately-due ones to their channel queue.
type NotificationService struct {
	outbox    repository.OutboxRepository
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

type OutboxSummary struct {
	Total  int64
	Counts map[domain.Status]int64
}

func NewNotificationService(
	outbox repository.OutboxRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*NotificationService, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		outbox:    outbox,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Create persists a notification and, when it is due immediately, hands it
// to the channel queue. The returned bool is false when an existing live
// notification with the same dedupe key absorbed the request.
func (s *NotificationService) Create(ctx context.Context, notification *domain.Notification) (*domain.Notification, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now().UTC()
	if err := s.prepareForCreate(notification, now); err != nil {
		return nil, false, err
	}

	if err := s.outbox.Create(ctx, notification); err != nil {
		existing, resolved, resolveErr := s.resolveDedupeConflict(ctx, err, notification.DedupeKey)
		if resolveErr != nil {
			return nil, false, resolveErr
		}
		if resolved {
			return existing, false, nil
		}
		return nil, false, err
	}

	if notification.ScheduledFor.After(now) {
		// The outbox scanner picks it up when it comes due.
		return notification, true, nil
	}

	msg := queue.NotificationMessage{
		NotificationID: notification.ID,
		CorrelationID:  notification.ID,
		Channel:        notification.Channel,
		Type:           notification.Type,
	}
	if err := s.publisher.Publish(ctx, queue.QueueName(notification.Channel), msg); err != nil {
		// The row stays PENDING; the scanner delivers it on its next pass.
		s.logger.Warn("failed to publish notification, deferring to scanner",
			zap.String("notificationId", notification.ID),
			zap.String("channel", string(notification.Channel)),
			zap.Error(err),
		)
	}

	return notification, true, nil
}

func (s *NotificationService) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.outbox.GetByID(ctx, strings.TrimSpace(id))
}

func (s *NotificationService) List(
	ctx context.Context,
	params repository.ListParams,
) ([]domain.Notification, int64, error) {
	return s.outbox.List(ctx, params)
}

func (s *NotificationService) Summary(ctx context.Context) (*OutboxSummary, error) {
	counts, err := s.outbox.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, count := range counts {
		total += count
	}

	return &OutboxSummary{Total: total, Counts: counts}, nil
}

func (s *NotificationService) prepareForCreate(n *domain.Notification, now time.Time) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	n.RecipientEmail = strings.TrimSpace(n.RecipientEmail)
	n.RecipientUserID = normalizeOptionalString(n.RecipientUserID)
	n.DedupeKey = normalizeOptionalString(n.DedupeKey)

	n.ID = strings.TrimSpace(n.ID)
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	n.Status = domain.StatusPending
	n.RetryCount = 0
	n.FailReason = nil
	n.SentAt = nil
	if n.ScheduledFor.IsZero() {
		n.ScheduledFor = now
	}

	return n.Validate()
}

func (s *NotificationService) resolveDedupeConflict(
	ctx context.Context,
	createErr error,
	dedupeKey *string,
) (*domain.Notification, bool, error) {
	if dedupeKey == nil || strings.TrimSpace(*dedupeKey) == "" {
		return nil, false, nil
	}
	if !isUniqueViolationError(createErr) {
		return nil, false, nil
	}

	existing, err := s.outbox.GetByDedupeKey(ctx, strings.TrimSpace(*dedupeKey))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing notification after dedupe conflict: %w", err)
	}
	s.logger.Info("dedupe conflict resolved",
		zap.String("existingId", existing.ID),
		zap.String("dedupeKey", *dedupeKey),
	)
	return existing, true, nil
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

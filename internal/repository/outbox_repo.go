package repository

import (
	"context"
	"errors"
	"time"

	"github.com/salesops/notify-relay/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	Status   *domain.Status
	Type     *domain.Type
	Channel  *domain.Channel
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type OutboxRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetByDedupeKey(ctx context.Context, dedupeKey string) (*domain.Notification, error)
	List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error)
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]domain.Notification, error)
	ClaimByID(ctx context.Context, id string) (*domain.Notification, error)
	MarkSent(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id string, reason string, now time.Time) error
	RequeueStale(ctx context.Context, staleBefore time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int64, error)
}

type GormOutboxRepo struct {
	db *gorm.DB
}

func NewGormOutboxRepo(db *gorm.DB) *GormOutboxRepo {
	return &GormOutboxRepo{db: db}
}

func (r *GormOutboxRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormOutboxRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormOutboxRepo) GetByDedupeKey(ctx context.Context, dedupeKey string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).
		Where("dedupe_key = ? AND status IN ?", dedupeKey, liveStatuses()).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormOutboxRepo) List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Type != nil {
		query = query.Where("type = ?", *params.Type)
	}
	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, total, nil
}

// ClaimDue atomically claims up to limit due pending rows by flipping them
// to SENDING in a single conditional UPDATE. SKIP LOCKED keeps concurrent
// scanner runs from double-claiming a row.
func (r *GormOutboxRepo) ClaimDue(ctx context.Context, limit int, now time.Time) ([]domain.Notification, error) {
	if limit < 1 {
		limit = 1
	}

	var models []NotificationModel
	err := r.db.WithContext(ctx).Raw(`
		UPDATE notifications
		SET status = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = ? AND scheduled_for <= ?
			ORDER BY scheduled_for ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		domain.StatusSending, now, domain.StatusPending, now, limit,
	).Scan(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, nil
}

// ClaimByID claims a single pending row for delivery. A nil notification
// with nil error means the row was already claimed or is terminal.
func (r *GormOutboxRepo) ClaimByID(ctx context.Context, id string) (*domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).Raw(`
		UPDATE notifications
		SET status = ?, updated_at = now()
		WHERE id = ? AND status = ?
		RETURNING *`,
		domain.StatusSending, id, domain.StatusPending,
	).Scan(&models).Error
	if err != nil {
		return nil, err
	}

	if len(models) == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return notificationModelToDomain(&models[0]), nil
}

func (r *GormOutboxRepo) MarkSent(ctx context.Context, id string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses()).
		Updates(map[string]any{
			"status":  domain.StatusSent,
			"sent_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Terminal rows stay as they are; only a missing row is an error.
		_, err := r.GetByID(ctx, id)
		return err
	}
	return nil
}

// MarkFailed records a delivery failure. Below the ceiling the row goes back
// to PENDING with a deferred ScheduledFor; at the ceiling it is terminal.
func (r *GormOutboxRepo) MarkFailed(ctx context.Context, id string, reason string, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model NotificationModel
		err := tx.Raw(`SELECT * FROM notifications WHERE id = ? FOR UPDATE`, id).Scan(&model).Error
		if err != nil {
			return err
		}
		if model.ID == "" {
			return domain.ErrNotFound
		}
		transition := domain.ApplyFailure(model.Status, model.RetryCount, now)
		if !transition.Changed {
			return nil
		}

		updates := map[string]any{
			"status":      transition.Status,
			"retry_count": transition.RetryCount,
			"fail_reason": reason,
		}
		if transition.Status == domain.StatusPending {
			updates["scheduled_for"] = transition.ScheduledFor
		}

		return tx.Model(&NotificationModel{}).
			Where("id = ?", id).
			Updates(updates).Error
	})
}

// RequeueStale resets rows stuck in SENDING (crashed worker) back to PENDING.
func (r *GormOutboxRepo) RequeueStale(ctx context.Context, staleBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("status = ? AND updated_at < ?", domain.StatusSending, staleBefore).
		Update("status", domain.StatusPending)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormOutboxRepo) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	type statusCount struct {
		Status domain.Status `gorm:"column:status"`
		Count  int64         `gorm:"column:count"`
	}

	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func liveStatuses() []domain.Status {
	return []domain.Status{domain.StatusPending, domain.StatusSending, domain.StatusSent}
}

func terminalStatuses() []domain.Status {
	return []domain.Status{domain.StatusSent, domain.StatusFailed}
}

package repository

import (
	"encoding/json"
	"time"

	"github.com/salesops/notify-relay/internal/domain"
)

// NotificationModel is the persistence model for the notifications outbox table.
type NotificationModel struct {
	ID              string         `gorm:"type:uuid;primaryKey"`
	Type            domain.Type    `gorm:"type:varchar(20);not null"`
	Channel         domain.Channel `gorm:"type:varchar(10);not null"`
	RecipientUserID *string        `gorm:"type:varchar(64)"`
	RecipientEmail  string         `gorm:"type:varchar(255);not null"`
	Payload         string         `gorm:"type:jsonb;not null"`
	Status          domain.Status  `gorm:"type:varchar(10);not null"`
	ScheduledFor    time.Time      `gorm:"type:timestamptz;not null"`
	RetryCount      int            `gorm:"not null;default:0"`
	DedupeKey       *string        `gorm:"type:varchar(255)"`
	FailReason      *string        `gorm:"type:text"`
	SentAt          *time.Time     `gorm:"type:timestamptz"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:              n.ID,
		Type:            n.Type,
		Channel:         n.Channel,
		RecipientUserID: n.RecipientUserID,
		RecipientEmail:  n.RecipientEmail,
		Payload:         string(n.Payload),
		Status:          n.Status,
		ScheduledFor:    n.ScheduledFor,
		RetryCount:      n.RetryCount,
		DedupeKey:       n.DedupeKey,
		FailReason:      n.FailReason,
		SentAt:          n.SentAt,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:              m.ID,
		Type:            m.Type,
		Channel:         m.Channel,
		RecipientUserID: m.RecipientUserID,
		RecipientEmail:  m.RecipientEmail,
		Payload:         json.RawMessage(m.Payload),
		Status:          m.Status,
		ScheduledFor:    m.ScheduledFor,
		RetryCount:      m.RetryCount,
		DedupeKey:       m.DedupeKey,
		FailReason:      m.FailReason,
		SentAt:          m.SentAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

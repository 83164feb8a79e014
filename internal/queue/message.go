package queue

import (
	"fmt"
	"strings"

	"github.com/salesops/notify-relay/internal/domain"
)

// NotificationMessage is the broker payload for notification delivery.
type NotificationMessage struct {
	NotificationID string         `json:"notificationId"`
	CorrelationID  string         `json:"correlationId,omitempty"`
	Channel        domain.Channel `json:"channel"`
	Type           domain.Type    `json:"type"`
}

func (m NotificationMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid notification type %q", m.Type)
	}
	return nil
}

package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of an outbox notification.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSending Status = "SENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Type tags the business event a notification was generated for.
type Type string

const (
	TypeSprintReminder Type = "SPRINT_REMINDER"
	TypeTaskOverdue    Type = "TASK_OVERDUE"
	TypeTaskAssigned   Type = "TASK_ASSIGNED"
	TypeDirect         Type = "DIRECT"
)

func (t Type) String() string { return string(t) }

func (t Type) IsValid() bool {
	switch t {
	case TypeSprintReminder, TypeTaskOverdue, TypeTaskAssigned, TypeDirect:
		return true
	}
	return false
}

func ParseTypeFromString(s string) (Type, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	ty := Type(normalized)
	if !ty.IsValid() {
		return "", fmt.Errorf("%w: invalid notification type %q", ErrValidation, s)
	}
	return ty, nil
}

// Channel represents the delivery target.
type Channel string

const (
	ChannelChat    Channel = "CHAT"
	ChannelSlack   Channel = "SLACK"
	ChannelWebhook Channel = "WEBHOOK"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelChat, ChannelSlack, ChannelWebhook:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// MaxDeliveryFailures is the outbox retry ceiling: the failure that brings
// RetryCount to this value forces the FAILED terminal state.
const MaxDeliveryFailures = 3

// RetryBackoff is the outbox re-dispatch delay after a recorded failure.
// It is intentionally coarser than the in-process attempt backoff: the
// attempt loop absorbs transient blips, the outbox cadence absorbs outages.
const RetryBackoff = 5 * time.Minute

// FailureTransition is the outbox state change produced by recording one
// delivery failure against a row. Changed is false when the row was already
// terminal, in which case the input state is echoed back unmodified.
type FailureTransition struct {
	Status       Status
	RetryCount   int
	ScheduledFor time.Time
	Changed      bool
}

// ApplyFailure computes the transition for one recorded delivery failure.
// SENT and FAILED rows never transition again. Below the ceiling the row
// returns to PENDING, rescheduled RetryBackoff after failedAt; the failure
// that brings the retry count to MaxDeliveryFailures retires it as FAILED.
func ApplyFailure(status Status, retryCount int, failedAt time.Time) FailureTransition {
	if status.IsTerminal() {
		return FailureTransition{Status: status, RetryCount: retryCount}
	}

	next := retryCount + 1
	if next >= MaxDeliveryFailures {
		return FailureTransition{Status: StatusFailed, RetryCount: next, Changed: true}
	}

	return FailureTransition{
		Status:       StatusPending,
		RetryCount:   next,
		ScheduledFor: failedAt.Add(RetryBackoff),
		Changed:      true,
	}
}

// Notification is the core domain entity: one logical outbound message,
// persisted until delivery succeeds or the retry ceiling is hit.
type Notification struct {
	ID              string
	Type            Type
	Channel         Channel
	RecipientUserID *string
	RecipientEmail  string
	Payload         json.RawMessage
	Status          Status
	ScheduledFor    time.Time
	RetryCount      int
	DedupeKey       *string
	FailReason      *string
	SentAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (n *Notification) Validate() error {
	if !n.Type.IsValid() {
		return fmt.Errorf("%w: invalid notification type %q", ErrValidation, n.Type)
	}
	if !n.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, n.Channel)
	}
	if n.Channel == ChannelChat && strings.TrimSpace(n.RecipientEmail) == "" {
		return fmt.Errorf("%w: recipient email is required for chat delivery", ErrValidation)
	}
	if len(n.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if !json.Valid(n.Payload) {
		return fmt.Errorf("%w: payload must be valid JSON", ErrValidation)
	}
	return nil
}

// Package payload builds the JSON bodies expected by downstream receivers.
// Each notification type has its own message shape; optional fields are
// defaulted rather than omitted because the receiving automation rejects
// bodies without a client context block.
package payload

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/salesops/notify-relay/internal/domain"
)

// ClientContext is required by the upstream receiver on every message.
type ClientContext struct {
	AppDomain string   `json:"appDomain"`
	Source    string   `json:"source"`
	Tags      []string `json:"tags"`
}

// Envelope is the wire body for every outbound notification.
type Envelope struct {
	Type           string          `json:"type"`
	CorrelationID  string          `json:"correlationId" validate:"required"`
	RecipientEmail string          `json:"recipientEmail"`
	Message        json.RawMessage `json:"message"`
	ClientContext  ClientContext   `json:"clientContext"`
}

// SprintReminderMessage nudges a rep about an OKR sprint checkpoint.
type SprintReminderMessage struct {
	SprintName string   `json:"sprintName" validate:"required"`
	DueDate    string   `json:"dueDate" validate:"required"`
	Progress   int      `json:"progress" validate:"gte=0,lte=100"`
	Objectives []string `json:"objectives"`
}

// TaskOverdueMessage flags an overdue OKR task.
type TaskOverdueMessage struct {
	TaskTitle   string `json:"taskTitle" validate:"required"`
	DueDate     string `json:"dueDate" validate:"required"`
	DaysOverdue int    `json:"daysOverdue" validate:"gte=0"`
	TaskURL     string `json:"taskUrl"`
}

// TaskAssignedMessage announces a new task assignment.
type TaskAssignedMessage struct {
	TaskTitle  string `json:"taskTitle" validate:"required"`
	AssignedBy string `json:"assignedBy"`
	DueDate    string `json:"dueDate"`
	TaskURL    string `json:"taskUrl"`
}

// DirectMessage is a free-form message with caller-provided text.
type DirectMessage struct {
	Text string `json:"text" validate:"required"`
}

// Builder assembles validated envelopes. It is stateless and safe for
// concurrent use.
type Builder struct {
	validate  *validator.Validate
	appDomain string
}

func NewBuilder(appDomain string) *Builder {
	return &Builder{
		validate:  validator.New(),
		appDomain: strings.TrimSpace(appDomain),
	}
}

// Build produces the wire envelope for a notification. The notification's
// Payload must unmarshal into the message shape of its Type; optional
// fields default to empty values.
func (b *Builder) Build(n *domain.Notification, correlationID string) (*Envelope, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	message, err := b.buildMessage(n)
	if err != nil {
		return nil, err
	}

	envelope := &Envelope{
		Type:           strings.ToLower(strings.ReplaceAll(n.Type.String(), "_", "-")),
		CorrelationID:  strings.TrimSpace(correlationID),
		RecipientEmail: strings.TrimSpace(n.RecipientEmail),
		Message:        message,
		ClientContext: ClientContext{
			AppDomain: b.appDomain,
			Source:    "notify-relay",
			Tags:      []string{},
		},
	}
	if envelope.CorrelationID == "" {
		envelope.CorrelationID = n.ID
	}

	if err := b.validate.Struct(envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	return envelope, nil
}

func (b *Builder) buildMessage(n *domain.Notification) (json.RawMessage, error) {
	switch n.Type {
	case domain.TypeSprintReminder:
		var msg SprintReminderMessage
		return b.decodeAndValidate(n.Payload, &msg, func() {
			if msg.Objectives == nil {
				msg.Objectives = []string{}
			}
		})
	case domain.TypeTaskOverdue:
		var msg TaskOverdueMessage
		return b.decodeAndValidate(n.Payload, &msg, nil)
	case domain.TypeTaskAssigned:
		var msg TaskAssignedMessage
		return b.decodeAndValidate(n.Payload, &msg, nil)
	case domain.TypeDirect:
		var msg DirectMessage
		return b.decodeAndValidate(n.Payload, &msg, nil)
	default:
		return nil, fmt.Errorf("%w: no message shape for type %q", domain.ErrValidation, n.Type)
	}
}

func (b *Builder) decodeAndValidate(raw json.RawMessage, target any, applyDefaults func()) (json.RawMessage, error) {
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", domain.ErrValidation, err)
	}
	if applyDefaults != nil {
		applyDefaults()
	}
	if err := b.validate.Struct(target); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	encoded, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return encoded, nil
}

// Summary renders a short plain-text line for chat delivery.
func (e *Envelope) Summary() string {
	switch e.Type {
	case "sprint-reminder":
		var msg SprintReminderMessage
		if json.Unmarshal(e.Message, &msg) == nil {
			return fmt.Sprintf("Sprint %q checkpoint due %s (%d%% complete)", msg.SprintName, msg.DueDate, msg.Progress)
		}
	case "task-overdue":
		var msg TaskOverdueMessage
		if json.Unmarshal(e.Message, &msg) == nil {
			return fmt.Sprintf("Task %q is %d day(s) overdue (due %s)", msg.TaskTitle, msg.DaysOverdue, msg.DueDate)
		}
	case "task-assigned":
		var msg TaskAssignedMessage
		if json.Unmarshal(e.Message, &msg) == nil {
			return fmt.Sprintf("New task assigned: %q", msg.TaskTitle)
		}
	case "direct":
		var msg DirectMessage
		if json.Unmarshal(e.Message, &msg) == nil {
			return msg.Text
		}
	}
	return fmt.Sprintf("Notification %s", e.CorrelationID)
}

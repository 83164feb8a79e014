package payload

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/salesops/notify-relay/internal/domain"
)

func TestBuildSprintReminder(t *testing.T) {
	t.Parallel()

	b := NewBuilder("dash.example.com")
	n := &domain.Notification{
		ID:             "n1",
		Type:           domain.TypeSprintReminder,
		Channel:        domain.ChannelChat,
		RecipientEmail: "rep@example.com",
		Payload:        json.RawMessage(`{"sprintName":"Q3-S2","dueDate":"2026-09-05","progress":40}`),
	}

	envelope, err := b.Build(n, "corr-1")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if envelope.Type != "sprint-reminder" {
		t.Fatalf("type = %q, want sprint-reminder", envelope.Type)
	}
	if envelope.CorrelationID != "corr-1" {
		t.Fatalf("correlationId = %q, want corr-1", envelope.CorrelationID)
	}
	if envelope.ClientContext.AppDomain != "dash.example.com" {
		t.Fatalf("appDomain = %q, want dash.example.com", envelope.ClientContext.AppDomain)
	}
	if envelope.ClientContext.Tags == nil {
		t.Fatal("client context tags must default to an empty slice, not null")
	}

	var msg SprintReminderMessage
	if err := json.Unmarshal(envelope.Message, &msg); err != nil {
		t.Fatalf("message unmarshal error = %v", err)
	}
	if msg.Objectives == nil {
		t.Fatal("objectives must default to an empty slice")
	}
}

func TestBuildFallsBackToNotificationID(t *testing.T) {
	t.Parallel()

	b := NewBuilder("dash.example.com")
	n := &domain.Notification{
		ID:             "n2",
		Type:           domain.TypeDirect,
		Channel:        domain.ChannelWebhook,
		RecipientEmail: "rep@example.com",
		Payload:        json.RawMessage(`{"text":"ping"}`),
	}

	envelope, err := b.Build(n, "  ")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if envelope.CorrelationID != "n2" {
		t.Fatalf("correlationId = %q, want notification id fallback", envelope.CorrelationID)
	}
}

func TestBuildRejectsSchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		typ     domain.Type
		payload string
	}{
		{name: "sprint reminder missing name", typ: domain.TypeSprintReminder, payload: `{"dueDate":"2026-09-05"}`},
		{name: "sprint reminder progress out of range", typ: domain.TypeSprintReminder, payload: `{"sprintName":"s","dueDate":"d","progress":140}`},
		{name: "task overdue missing title", typ: domain.TypeTaskOverdue, payload: `{"dueDate":"2026-08-01","daysOverdue":2}`},
		{name: "direct missing text", typ: domain.TypeDirect, payload: `{}`},
		{name: "malformed json", typ: domain.TypeDirect, payload: `{broken`},
	}

	b := NewBuilder("dash.example.com")
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n := &domain.Notification{
				ID:             "n3",
				Type:           tt.typ,
				Channel:        domain.ChannelWebhook,
				RecipientEmail: "rep@example.com",
				Payload:        json.RawMessage(tt.payload),
			}

			_, err := b.Build(n, "corr")
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Build() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestEnvelopeSummary(t *testing.T) {
	t.Parallel()

	b := NewBuilder("dash.example.com")
	n := &domain.Notification{
		ID:             "n4",
		Type:           domain.TypeTaskOverdue,
		Channel:        domain.ChannelChat,
		RecipientEmail: "rep@example.com",
		Payload:        json.RawMessage(`{"taskTitle":"Call ACME","dueDate":"2026-08-20","daysOverdue":3}`),
	}

	envelope, err := b.Build(n, "corr")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	summary := envelope.Summary()
	if !strings.Contains(summary, "Call ACME") || !strings.Contains(summary, "3 day") {
		t.Fatalf("Summary() = %q, want task title and overdue days", summary)
	}
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/salesops/notify-relay/internal/domain"
	"github.com/salesops/notify-relay/internal/repository"
	"github.com/salesops/notify-relay/internal/service"
	"github.com/salesops/notify-relay/internal/transport"
	"go.uber.org/zap"
)

type stubNotificationService struct {
	createFn  func(ctx context.Context, n *domain.Notification) (*domain.Notification, bool, error)
	getByIDFn func(ctx context.Context, id string) (*domain.Notification, error)
	listFn    func(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	summaryFn func(ctx context.Context) (*service.OutboxSummary, error)
}

func (s *stubNotificationService) Create(ctx context.Context, n *domain.Notification) (*domain.Notification, bool, error) {
	if s.createFn != nil {
		return s.createFn(ctx, n)
	}
	return n, true, nil
}

func (s *stubNotificationService) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubNotificationService) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (s *stubNotificationService) Summary(ctx context.Context) (*service.OutboxSummary, error) {
	if s.summaryFn != nil {
		return s.summaryFn(ctx)
	}
	return &service.OutboxSummary{}, nil
}

func newTestApp(t *testing.T, svc NotificationService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	if err := RegisterNotificationRoutes(app, svc); err != nil {
		t.Fatalf("RegisterNotificationRoutes() error = %v", err)
	}
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, target string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	return resp
}

func TestCreateNotificationAccepted(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		createFn: func(ctx context.Context, n *domain.Notification) (*domain.Notification, bool, error) {
			n.ID = "generated-id"
			n.Status = domain.StatusPending
			return n, true, nil
		},
	}
	app := newTestApp(t, svc)

	resp := doJSON(t, app, http.MethodPost, "/v1/notifications", map[string]any{
		"type":           "TASK_ASSIGNED",
		"channel":        "chat",
		"recipientEmail": "rep@salesops.dev",
		"payload":        map[string]any{"taskTitle": "Call ACME"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var got notificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != "generated-id" {
		t.Fatalf("id = %q, want generated-id", got.ID)
	}
	if got.Channel != "CHAT" {
		t.Fatalf("channel = %q, want CHAT", got.Channel)
	}
	if got.Status != "PENDING" {
		t.Fatalf("status = %q, want PENDING", got.Status)
	}
}

func TestCreateNotificationDuplicateReturnsOK(t *testing.T) {
	t.Parallel()

	dedupeKey := "sprint-7"
	existing := &domain.Notification{
		ID:        "existing-id",
		Type:      domain.TypeSprintReminder,
		Channel:   domain.ChannelWebhook,
		Status:    domain.StatusSent,
		DedupeKey: &dedupeKey,
	}

	svc := &stubNotificationService{
		createFn: func(ctx context.Context, n *domain.Notification) (*domain.Notification, bool, error) {
			return existing, false, nil
		},
	}
	app := newTestApp(t, svc)

	resp := doJSON(t, app, http.MethodPost, "/v1/notifications", map[string]any{
		"type":      "SPRINT_REMINDER",
		"channel":   "webhook",
		"payload":   map[string]any{"sprintName": "Q3 push"},
		"dedupeKey": dedupeKey,
	})
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 for dedupe duplicate", resp.StatusCode)
	}

	var got notificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != "existing-id" {
		t.Fatalf("id = %q, want existing-id", got.ID)
	}
}

func TestCreateNotificationInvalidChannel(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &stubNotificationService{})

	resp := doJSON(t, app, http.MethodPost, "/v1/notifications", map[string]any{
		"type":    "DIRECT",
		"channel": "FAX",
		"payload": map[string]any{"text": "hi"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateNotificationMalformedBody(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &stubNotificationService{})

	req := httptest.NewRequest(http.MethodPost, "/v1/notifications", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetNotificationNotFound(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &stubNotificationService{})

	resp := doJSON(t, app, http.MethodGet, "/v1/notifications/unknown", nil)
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListNotificationsParsesFilters(t *testing.T) {
	t.Parallel()

	var gotParams repository.ListParams
	svc := &stubNotificationService{
		listFn: func(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
			gotParams = params
			return []domain.Notification{
				{ID: "n1", Type: domain.TypeDirect, Channel: domain.ChannelSlack, Status: domain.StatusSent},
			}, 1, nil
		},
	}
	app := newTestApp(t, svc)

	resp := doJSON(t, app, http.MethodGet,
		"/v1/notifications?status=sent&channel=slack&type=direct&page=2&pageSize=10", nil)
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if gotParams.Status == nil || *gotParams.Status != domain.StatusSent {
		t.Fatalf("status filter = %v, want SENT", gotParams.Status)
	}
	if gotParams.Channel == nil || *gotParams.Channel != domain.ChannelSlack {
		t.Fatalf("channel filter = %v, want SLACK", gotParams.Channel)
	}
	if gotParams.Type == nil || *gotParams.Type != domain.TypeDirect {
		t.Fatalf("type filter = %v, want DIRECT", gotParams.Type)
	}
	if gotParams.Page != 2 || gotParams.PageSize != 10 {
		t.Fatalf("pagination = %d/%d, want 2/10", gotParams.Page, gotParams.PageSize)
	}

	var got listNotificationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Meta.Total != 1 || len(got.Data) != 1 {
		t.Fatalf("list response = %+v, want one row", got)
	}
}

func TestListNotificationsInvalidStatus(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &stubNotificationService{})

	resp := doJSON(t, app, http.MethodGet, "/v1/notifications?status=BOGUS", nil)
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetSummary(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		summaryFn: func(ctx context.Context) (*service.OutboxSummary, error) {
			return &service.OutboxSummary{
				Total: 5,
				Counts: map[domain.Status]int64{
					domain.StatusPending: 2,
					domain.StatusSent:    3,
				},
			}, nil
		},
	}
	app := newTestApp(t, svc)

	resp := doJSON(t, app, http.MethodGet, "/v1/notifications/summary", nil)
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Total != 5 {
		t.Fatalf("total = %d, want 5", got.Total)
	}
	if got.Counts["SENT"] != 3 {
		t.Fatalf("sent count = %d, want 3", got.Counts["SENT"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &stubNotificationService{})

	resp := doJSON(t, app, http.MethodDelete, "/v1/notifications", nil)
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestCreateNotificationScheduledForPassedThrough(t *testing.T) {
	t.Parallel()

	var gotScheduledFor time.Time
	svc := &stubNotificationService{
		createFn: func(ctx context.Context, n *domain.Notification) (*domain.Notification, bool, error) {
			gotScheduledFor = n.ScheduledFor
			return n, true, nil
		},
	}
	app := newTestApp(t, svc)

	scheduledFor := time.Date(2026, time.September, 3, 14, 0, 0, 0, time.UTC)
	resp := doJSON(t, app, http.MethodPost, "/v1/notifications", map[string]any{
		"type":         "DIRECT",
		"channel":      "slack",
		"payload":      map[string]any{"text": "later"},
		"scheduledFor": scheduledFor.Format(time.RFC3339),
	})
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if !gotScheduledFor.Equal(scheduledFor) {
		t.Fatalf("scheduledFor = %v, want %v", gotScheduledFor, scheduledFor)
	}
}

func TestCreateNotificationServiceErrorMapped(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		createFn: func(ctx context.Context, n *domain.Notification) (*domain.Notification, bool, error) {
			return nil, false, errors.New("connection refused")
		},
	}
	app := newTestApp(t, svc)

	resp := doJSON(t, app, http.MethodPost, "/v1/notifications", map[string]any{
		"type":    "DIRECT",
		"channel": "slack",
		"payload": map[string]any{"text": "hi"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

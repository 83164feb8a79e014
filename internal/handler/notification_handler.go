package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/salesops/notify-relay/internal/domain"
	"github.com/salesops/notify-relay/internal/repository"
	"github.com/salesops/notify-relay/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type NotificationService interface {
	Create(ctx context.Context, n *domain.Notification) (*domain.Notification, bool, error)
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	Summary(ctx context.Context) (*service.OutboxSummary, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Get("/notifications", h.ListNotifications)
	// Registered before :id so "summary" is not captured as an id.
	v1.Get("/notifications/summary", h.GetSummary)
	v1.Get("/notifications/:id", h.GetNotification)

	return nil
}

type createNotificationRequest struct {
	Type            string          `json:"type"`
	Channel         string          `json:"channel"`
	RecipientUserID *string         `json:"recipientUserId"`
	RecipientEmail  string          `json:"recipientEmail"`
	Payload         json.RawMessage `json:"payload"`
	ScheduledFor    *time.Time      `json:"scheduledFor,omitempty"`
	DedupeKey       *string         `json:"dedupeKey,omitempty"`
}

type notificationResponse struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Channel         string          `json:"channel"`
	RecipientUserID *string         `json:"recipientUserId,omitempty"`
	RecipientEmail  string          `json:"recipientEmail,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	Status          string          `json:"status"`
	ScheduledFor    time.Time       `json:"scheduledFor"`
	RetryCount      int             `json:"retryCount"`
	DedupeKey       *string         `json:"dedupeKey,omitempty"`
	FailReason      *string         `json:"failReason,omitempty"`
	SentAt          *time.Time      `json:"sentAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt,omitempty"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type summaryResponse struct {
	Total  int64            `json:"total"`
	Counts map[string]int64 `json:"counts"`
}

// CreateNotification accepts a notification into the outbox. A request
// whose dedupe key matches a live notification returns the existing row
// with 200 instead of 202.
func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	notification, err := requestToDomainNotification(req)
	if err != nil {
		return toHTTPError(err)
	}

	created, accepted, err := h.service.Create(c.Context(), &notification)
	if err != nil {
		return toHTTPError(err)
	}

	status := fiber.StatusAccepted
	if !accepted {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(toNotificationResponse(created))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	notifications, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(notifications),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *NotificationHandler) GetSummary(c *fiber.Ctx) error {
	summary, err := h.service.Summary(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	counts := make(map[string]int64, len(summary.Counts))
	for status, count := range summary.Counts {
		counts[status.String()] = count
	}

	return c.Status(fiber.StatusOK).JSON(summaryResponse{
		Total:  summary.Total,
		Counts: counts,
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawType := strings.TrimSpace(c.Query("type")); rawType != "" {
		notificationType, err := domain.ParseTypeFromString(rawType)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Type = &notificationType
	}

	if rawChannel := strings.TrimSpace(c.Query("channel")); rawChannel != "" {
		channel, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Channel = &channel
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func requestToDomainNotification(req createNotificationRequest) (domain.Notification, error) {
	notificationType, err := domain.ParseTypeFromString(req.Type)
	if err != nil {
		return domain.Notification{}, err
	}

	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return domain.Notification{}, err
	}

	n := domain.Notification{
		Type:            notificationType,
		Channel:         channel,
		RecipientUserID: req.RecipientUserID,
		RecipientEmail:  strings.TrimSpace(req.RecipientEmail),
		Payload:         req.Payload,
		DedupeKey:       req.DedupeKey,
	}
	if req.ScheduledFor != nil {
		n.ScheduledFor = *req.ScheduledFor
	}

	return n, nil
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, notification := range notifications {
		n := notification
		responses = append(responses, toNotificationResponse(&n))
	}
	return responses
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:              n.ID,
		Type:            n.Type.String(),
		Channel:         n.Channel.String(),
		RecipientUserID: n.RecipientUserID,
		RecipientEmail:  n.RecipientEmail,
		Payload:         n.Payload,
		Status:          n.Status.String(),
		ScheduledFor:    n.ScheduledFor,
		RetryCount:      n.RetryCount,
		DedupeKey:       n.DedupeKey,
		FailReason:      n.FailReason,
		SentAt:          n.SentAt,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}

package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/salesops/notify-relay/internal/domain"
	"github.com/salesops/notify-relay/internal/service"
)

const maxPromptLength = 8192

type DiagnosticService interface {
	Analyze(ctx context.Context, prompt string) (*service.DiagnosticResult, error)
}

type DiagnosticHandler struct {
	service DiagnosticService
}

func NewDiagnosticHandler(service DiagnosticService) (*DiagnosticHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("diagnostic service is required")
	}
	return &DiagnosticHandler{service: service}, nil
}

func RegisterDiagnosticRoutes(router fiber.Router, service DiagnosticService) error {
	h, err := NewDiagnosticHandler(service)
	if err != nil {
		return err
	}

	router.Group("/v1").Post("/diagnostics", h.Analyze)
	return nil
}

type diagnosticRequest struct {
	Prompt string `json:"prompt"`
}

type diagnosticResponse struct {
	Analysis string `json:"analysis"`
	Provider string `json:"provider"`
}

func (h *DiagnosticHandler) Analyze(c *fiber.Ctx) error {
	var req diagnosticRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return toHTTPError(fmt.Errorf("%w: prompt is required", domain.ErrValidation))
	}
	if len(prompt) > maxPromptLength {
		return toHTTPError(fmt.Errorf("%w: prompt exceeds %d characters", domain.ErrValidation, maxPromptLength))
	}

	result, err := h.service.Analyze(c.Context(), prompt)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}

	return c.Status(fiber.StatusOK).JSON(diagnosticResponse{
		Analysis: result.Analysis,
		Provider: result.Provider,
	})
}

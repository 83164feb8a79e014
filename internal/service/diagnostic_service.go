package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Analyzer produces an analysis for a prompt and reports which provider
// answered.
type Analyzer interface {
	Generate(ctx context.Context, prompt string) (analysis string, provider string, err error)
}

// DiagnosticService runs call-analysis prompts through the AI provider
// chain and forwards results to the configured result webhook.
type DiagnosticService struct {
	analyzer  Analyzer
	webhook   WebhookSender
	resultURL string
	logger    *zap.Logger
}

type DiagnosticResult struct {
	Analysis string `json:"analysis"`
	Provider string `json:"provider"`
}

func NewDiagnosticService(
	analyzer Analyzer,
	webhook WebhookSender,
	resultURL string,
	logger *zap.Logger,
) (*DiagnosticService, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DiagnosticService{
		analyzer:  analyzer,
		webhook:   webhook,
		resultURL: strings.TrimSpace(resultURL),
		logger:    logger,
	}, nil
}

// Analyze generates an analysis and forwards it to the result webhook.
// The forward is best effort: a webhook failure is logged, never surfaced.
func (s *DiagnosticService) Analyze(ctx context.Context, prompt string) (*DiagnosticResult, error) {
	analysis, providerName, err := s.analyzer.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	result := &DiagnosticResult{
		Analysis: analysis,
		Provider: providerName,
	}

	if s.webhook != nil && s.resultURL != "" {
		if dispatched := s.webhook.Dispatch(ctx, s.resultURL, result); dispatched.Err != nil {
			s.logger.Warn("failed to forward diagnostic result",
				zap.String("provider", providerName),
				zap.Error(dispatched.Err),
			)
		}
	}

	return result, nil
}

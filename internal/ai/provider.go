// Package ai proxies call-analysis prompts to external LLM providers with
// a configured fallback order.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrNotConfigured marks a provider whose API key is absent. The chain
// skips such providers instead of failing the request.
var ErrNotConfigured = errors.New("ai provider is not configured")

// Provider generates an analysis for a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Chain tries each provider in order and returns the first successful
// analysis. Configuration gaps and upstream failures both advance to the
// next provider; only when every provider fails does the caller get an
// error, with each provider's failure recorded.
type Chain struct {
	providers []Provider
	logger    *zap.Logger
}

func NewChain(logger *zap.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Chain{providers: providers, logger: logger}, nil
}

func (c *Chain) Generate(ctx context.Context, prompt string) (string, string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", "", fmt.Errorf("prompt is required")
	}

	var failures []string
	for _, p := range c.providers {
		analysis, err := p.Generate(ctx, prompt)
		if err == nil {
			return analysis, p.Name(), nil
		}

		if errors.Is(err, ErrNotConfigured) {
			c.logger.Info("ai provider skipped: not configured", zap.String("provider", p.Name()))
		} else {
			c.logger.Warn("ai provider failed, trying next", zap.String("provider", p.Name()), zap.Error(err))
		}
		failures = append(failures, fmt.Sprintf("%s: %v", p.Name(), err))

		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
	}

	return "", "", fmt.Errorf("all ai providers unavailable: %s", strings.Join(failures, "; "))
}

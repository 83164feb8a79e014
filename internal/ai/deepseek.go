package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultDeepSeekBase  = "https://api.deepseek.com"
	defaultDeepSeekModel = "deepseek-chat"
	deepSeekTimeout      = 30 * time.Second
)

// DeepSeekProvider calls the DeepSeek chat completions API.
type DeepSeekProvider struct {
	client  *resty.Client
	apiKey  string
	apiBase string
	model   string
}

func NewDeepSeekProvider(apiKey string) *DeepSeekProvider {
	client := resty.New()
	client.SetTimeout(deepSeekTimeout)

	return &DeepSeekProvider{
		client:  client,
		apiKey:  strings.TrimSpace(apiKey),
		apiBase: defaultDeepSeekBase,
		model:   defaultDeepSeekModel,
	}
}

func (p *DeepSeekProvider) Name() string { return "deepseek" }

type deepSeekRequest struct {
	Model    string            `json:"model"`
	Messages []deepSeekMessage `json:"messages"`
}

type deepSeekMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type deepSeekResponse struct {
	Choices []struct {
		Message deepSeekMessage `json:"message"`
	} `json:"choices"`
}

func (p *DeepSeekProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("%w: DEEPSEEK_API_KEY is missing", ErrNotConfigured)
	}

	var result deepSeekResponse
	response, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.apiKey).
		SetBody(deepSeekRequest{
			Model:    p.model,
			Messages: []deepSeekMessage{{Role: "user", Content: prompt}},
		}).
		SetResult(&result).
		Post(p.apiBase + "/chat/completions")
	if err != nil {
		return "", fmt.Errorf("deepseek request failed: %w", err)
	}
	if response.IsError() {
		return "", fmt.Errorf("deepseek returned status %d: %s", response.StatusCode(), strings.TrimSpace(response.String()))
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("deepseek returned no choices")
	}

	text := strings.TrimSpace(result.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("deepseek returned an empty analysis")
	}
	return text, nil
}

package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultGeminiBase  = "https://generativelanguage.googleapis.com"
	defaultGeminiModel = "gemini-2.0-flash"
	geminiTimeout      = 30 * time.Second
)

// GeminiProvider calls the Gemini generateContent API.
type GeminiProvider struct {
	client  *resty.Client
	apiKey  string
	apiBase string
	model   string
}

func NewGeminiProvider(apiKey string) *GeminiProvider {
	client := resty.New()
	client.SetTimeout(geminiTimeout)

	return &GeminiProvider{
		client:  client,
		apiKey:  strings.TrimSpace(apiKey),
		apiBase: defaultGeminiBase,
		model:   defaultGeminiModel,
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("%w: GEMINI_API_KEY is missing", ErrNotConfigured)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.apiBase, p.model)

	var result geminiResponse
	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("x-goog-api-key", p.apiKey).
		SetBody(geminiRequest{
			Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		}).
		SetResult(&result).
		Post(endpoint)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	if response.IsError() {
		return "", fmt.Errorf("gemini returned status %d: %s", response.StatusCode(), strings.TrimSpace(response.String()))
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	text := strings.TrimSpace(result.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty analysis")
	}
	return text, nil
}

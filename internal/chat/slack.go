package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/salesops/notify-relay/internal/dispatch"
)

// SlackSender posts messages to a Slack incoming webhook.
type SlackSender struct {
	dispatcher *dispatch.Dispatcher
	webhookURL string
}

func NewSlackSender(dispatcher *dispatch.Dispatcher, webhookURL string) (*SlackSender, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	trimmed := strings.TrimSpace(webhookURL)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: slack webhook url is empty", ErrNotConfigured)
	}

	return &SlackSender{
		dispatcher: dispatcher,
		webhookURL: trimmed,
	}, nil
}

type slackMessage struct {
	Text string `json:"text"`
}

func (s *SlackSender) Send(ctx context.Context, text string) dispatch.Result {
	return s.dispatcher.Dispatch(ctx, s.webhookURL, slackMessage{Text: text})
}

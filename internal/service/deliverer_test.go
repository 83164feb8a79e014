package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/salesops/notify-relay/internal/dispatch"
	"github.com/salesops/notify-relay/internal/domain"
	"github.com/salesops/notify-relay/internal/payload"
	"github.com/salesops/notify-relay/internal/queue"
	"github.com/salesops/notify-relay/internal/ratelimit"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testWebhookURL = "http://receiver.internal/hooks/okr"

func newTestDeliverer(
	t *testing.T,
	repo *fakeOutboxRepo,
	chat ChatSender,
	slack SlackSender,
	webhook WebhookSender,
	limiter ratelimit.RateLimiter,
) *Deliverer {
	t.Helper()

	if limiter == nil {
		limiter = &fakeRateLimiter{}
	}

	deliverer, err := NewDeliverer(
		repo,
		payload.NewBuilder("okr.salesops.dev"),
		chat,
		slack,
		webhook,
		testWebhookURL,
		limiter,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewDeliverer() error = %v", err)
	}
	deliverer.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return deliverer
}

func webhookNotification(id string) *domain.Notification {
	return &domain.Notification{
		ID:      id,
		Type:    domain.TypeDirect,
		Channel: domain.ChannelWebhook,
		Status:  domain.StatusSending,
		Payload: json.RawMessage(`{"text":"hello"}`),
	}
}

func TestDelivererWebhookSuccess(t *testing.T) {
	t.Parallel()

	var sentID string
	var gotEndpoint string
	var gotEnvelope *payload.Envelope

	repo := &fakeOutboxRepo{
		markSentFn: func(ctx context.Context, id string, now time.Time) error {
			sentID = id
			return nil
		},
		markFailedFn: func(ctx context.Context, id string, reason string, now time.Time) error {
			t.Fatalf("MarkFailed should not be called on success")
			return nil
		},
	}
	webhook := &fakeWebhookSender{
		dispatchFn: func(ctx context.Context, endpoint string, body any, opts ...dispatch.Option) dispatch.Result {
			gotEndpoint = endpoint
			gotEnvelope, _ = body.(*payload.Envelope)
			return dispatch.Result{Success: true, Attempts: 1, StatusCode: 200}
		},
	}

	deliverer := newTestDeliverer(t, repo, nil, nil, webhook, nil)

	err := deliverer.Deliver(context.Background(), webhookNotification("n1"), "corr-1")
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if sentID != "n1" {
		t.Fatalf("marked sent id = %q, want n1", sentID)
	}
	if gotEndpoint != testWebhookURL {
		t.Fatalf("endpoint = %q, want %q", gotEndpoint, testWebhookURL)
	}
	if gotEnvelope == nil || gotEnvelope.CorrelationID != "corr-1" {
		t.Fatalf("envelope correlation id = %v, want corr-1", gotEnvelope)
	}
}

func TestDelivererChatRouting(t *testing.T) {
	t.Parallel()

	userID := "user-77"
	var gotUserID, gotEmail, gotText string

	repo := &fakeOutboxRepo{}
	chat := &fakeChatSender{
		sendDMFn: func(ctx context.Context, uid, email, text string) dispatch.Result {
			gotUserID = uid
			gotEmail = email
			gotText = text
			return dispatch.Result{Success: true, Attempts: 1, StatusCode: 200}
		},
	}

	deliverer := newTestDeliverer(t, repo, chat, nil, nil, nil)

	notification := &domain.Notification{
		ID:              "n2",
		Type:            domain.TypeTaskOverdue,
		Channel:         domain.ChannelChat,
		Status:          domain.StatusSending,
		RecipientUserID: &userID,
		RecipientEmail:  "rep@salesops.dev",
		Payload:         json.RawMessage(`{"taskTitle":"Call ACME","dueDate":"2026-08-28","daysOverdue":4}`),
	}

	if err := deliverer.Deliver(context.Background(), notification, "corr-2"); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if gotUserID != userID {
		t.Fatalf("user id = %q, want %q", gotUserID, userID)
	}
	if gotEmail != "rep@salesops.dev" {
		t.Fatalf("email = %q, want rep@salesops.dev", gotEmail)
	}
	if !strings.Contains(gotText, "Call ACME") {
		t.Fatalf("chat text = %q, want task title in it", gotText)
	}
}

func TestDelivererSlackRouting(t *testing.T) {
	t.Parallel()

	var gotText string
	slack := &fakeSlackSender{
		sendFn: func(ctx context.Context, text string) dispatch.Result {
			gotText = text
			return dispatch.Result{Success: true, Attempts: 1, StatusCode: 200}
		},
	}

	deliverer := newTestDeliverer(t, &fakeOutboxRepo{}, nil, slack, nil, nil)

	notification := &domain.Notification{
		ID:      "n3",
		Type:    domain.TypeDirect,
		Channel: domain.ChannelSlack,
		Status:  domain.StatusSending,
		Payload: json.RawMessage(`{"text":"deal closed"}`),
	}

	if err := deliverer.Deliver(context.Background(), notification, ""); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if gotText != "deal closed" {
		t.Fatalf("slack text = %q, want deal closed", gotText)
	}
}

func TestDelivererDeliveryFailureMarksFailed(t *testing.T) {
	t.Parallel()

	var failedID, failedReason string
	repo := &fakeOutboxRepo{
		markFailedFn: func(ctx context.Context, id string, reason string, now time.Time) error {
			failedID = id
			failedReason = reason
			return nil
		},
		markSentFn: func(ctx context.Context, id string, now time.Time) error {
			t.Fatalf("MarkSent should not be called on failure")
			return nil
		},
	}
	webhook := &fakeWebhookSender{
		dispatchFn: func(ctx context.Context, endpoint string, body any, opts ...dispatch.Option) dispatch.Result {
			return dispatch.Result{
				Attempts:   4,
				StatusCode: 503,
				Err:        errors.New("endpoint returned status 503"),
			}
		},
	}

	deliverer := newTestDeliverer(t, repo, nil, nil, webhook, nil)

	if err := deliverer.Deliver(context.Background(), webhookNotification("n4"), ""); err != nil {
		t.Fatalf("Deliver() error = %v, delivery failure should settle on the row", err)
	}
	if failedID != "n4" {
		t.Fatalf("marked failed id = %q, want n4", failedID)
	}
	if !strings.Contains(failedReason, "503") {
		t.Fatalf("failure reason = %q, want status in it", failedReason)
	}
}

func TestDelivererInvalidPayloadSkipsSend(t *testing.T) {
	t.Parallel()

	var failedReason string
	sendCalled := false
	limiterCalled := false

	repo := &fakeOutboxRepo{
		markFailedFn: func(ctx context.Context, id string, reason string, now time.Time) error {
			failedReason = reason
			return nil
		},
	}
	webhook := &fakeWebhookSender{
		dispatchFn: func(ctx context.Context, endpoint string, body any, opts ...dispatch.Option) dispatch.Result {
			sendCalled = true
			return dispatch.Result{Success: true}
		},
	}
	limiter := &fakeRateLimiter{
		waitFn: func(ctx context.Context, channel string) error {
			limiterCalled = true
			return nil
		},
	}

	deliverer := newTestDeliverer(t, repo, nil, nil, webhook, limiter)

	notification := webhookNotification("n5")
	notification.Payload = json.RawMessage(`{"wrong":"shape"}`)

	if err := deliverer.Deliver(context.Background(), notification, ""); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if sendCalled {
		t.Fatal("sender should not be called for an invalid payload")
	}
	if limiterCalled {
		t.Fatal("rate limiter should not be consulted for an invalid payload")
	}
	if failedReason == "" {
		t.Fatal("invalid payload should be recorded as a failure")
	}
}

func TestDelivererRateLimiterError(t *testing.T) {
	t.Parallel()

	sendCalled := false
	limiter := &fakeRateLimiter{
		waitFn: func(ctx context.Context, channel string) error {
			if channel != "webhook" {
				t.Fatalf("channel = %q, want webhook", channel)
			}
			return errors.New("rate limit wait timeout")
		},
	}
	webhook := &fakeWebhookSender{
		dispatchFn: func(ctx context.Context, endpoint string, body any, opts ...dispatch.Option) dispatch.Result {
			sendCalled = true
			return dispatch.Result{Success: true}
		},
	}

	deliverer := newTestDeliverer(t, &fakeOutboxRepo{}, nil, nil, webhook, limiter)

	err := deliverer.Deliver(context.Background(), webhookNotification("n6"), "")
	if err == nil || !strings.Contains(err.Error(), "rate limiter wait failed") {
		t.Fatalf("Deliver() error = %v, want rate limiter failure", err)
	}
	if sendCalled {
		t.Fatal("sender should not be called when the rate limiter fails")
	}
}

func TestDelivererMissingChannelSenderMarksFailed(t *testing.T) {
	t.Parallel()

	var failedReason string
	repo := &fakeOutboxRepo{
		markFailedFn: func(ctx context.Context, id string, reason string, now time.Time) error {
			failedReason = reason
			return nil
		},
	}

	deliverer := newTestDeliverer(t, repo, nil, nil, nil, nil)

	notification := &domain.Notification{
		ID:             "n7",
		Type:           domain.TypeDirect,
		Channel:        domain.ChannelChat,
		Status:         domain.StatusSending,
		RecipientEmail: "rep@salesops.dev",
		Payload:        json.RawMessage(`{"text":"hi"}`),
	}

	if err := deliverer.Deliver(context.Background(), notification, ""); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if !strings.Contains(failedReason, "not configured") {
		t.Fatalf("failure reason = %q, want unconfigured sender", failedReason)
	}
}

func TestDelivererLogsCarryCorrelationID(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)

	webhook := &fakeWebhookSender{
		dispatchFn: func(ctx context.Context, endpoint string, body any, opts ...dispatch.Option) dispatch.Result {
			return dispatch.Result{Success: true, Attempts: 1, StatusCode: 200}
		},
	}

	deliverer := newTestDeliverer(t, &fakeOutboxRepo{}, nil, nil, webhook, nil)
	deliverer.logger = zap.New(core)

	if err := deliverer.Deliver(context.Background(), webhookNotification("n8"), "corr-42"); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	entries := logs.FilterMessage("notification delivered").All()
	if len(entries) != 1 {
		t.Fatalf("delivered log entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["correlationId"]; got != "corr-42" {
		t.Fatalf("correlationId field = %v, want corr-42", got)
	}
}

type fakeChatSender struct {
	sendDMFn func(ctx context.Context, userID, email, text string) dispatch.Result
}

func (f *fakeChatSender) SendDM(ctx context.Context, userID, email, text string) dispatch.Result {
	if f.sendDMFn != nil {
		return f.sendDMFn(ctx, userID, email, text)
	}
	return dispatch.Result{Success: true}
}

type fakeSlackSender struct {
	sendFn func(ctx context.Context, text string) dispatch.Result
}

func (f *fakeSlackSender) Send(ctx context.Context, text string) dispatch.Result {
	if f.sendFn != nil {
		return f.sendFn(ctx, text)
	}
	return dispatch.Result{Success: true}
}

type fakeWebhookSender struct {
	dispatchFn func(ctx context.Context, endpoint string, body any, opts ...dispatch.Option) dispatch.Result
}

func (f *fakeWebhookSender) Dispatch(ctx context.Context, endpoint string, body any, opts ...dispatch.Option) dispatch.Result {
	if f.dispatchFn != nil {
		return f.dispatchFn(ctx, endpoint, body, opts...)
	}
	return dispatch.Result{Success: true}
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, channel string) (bool, error)
	waitFn  func(ctx context.Context, channel string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, channel)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

var _ queue.Consumer = (*fakeConsumer)(nil)

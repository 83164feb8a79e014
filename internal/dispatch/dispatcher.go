package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxRetries     = 3
	defaultAttemptTimeout = 15 * time.Second
	defaultUserAgent      = "notify-relay/1.0"
)

// defaultDelays is the inter-attempt backoff table; indexes past the end
// clamp to the last entry.
var defaultDelays = []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}

// Result is the outcome of a dispatch call. Delivery failure is data, not a
// Go error: Err is populated but Dispatch itself never fails.
type Result struct {
	Success    bool
	Attempts   int
	StatusCode int
	Body       string
	Err        error
}

// Option customizes a single Dispatch call.
type Option func(*callConfig)

type callConfig struct {
	maxRetries int
	timeout    time.Duration
	headers    map[string]string
}

// WithMaxRetries bounds retries after the first attempt (n retries = n+1 attempts).
func WithMaxRetries(n int) Option {
	return func(c *callConfig) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithAttemptTimeout bounds each individual attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *callConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHeader adds a header to every attempt of the call.
func WithHeader(key, value string) Option {
	return func(c *callConfig) {
		c.headers[key] = value
	}
}

// Dispatcher performs bounded-retry JSON POSTs to webhook endpoints.
type Dispatcher struct {
	client    *resty.Client
	logger    *zap.Logger
	userAgent string
	delays    []time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	newID     func() string
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	client := resty.New()
	client.SetRetryCount(0)

	return NewDispatcherWithClient(client, logger)
}

func NewDispatcherWithClient(client *resty.Client, logger *zap.Logger) *Dispatcher {
	if client == nil {
		client = resty.New()
	}
	// Retrying is this package's job; resty must not retry underneath it.
	client.SetRetryCount(0)

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		client:    client,
		logger:    logger,
		userAgent: defaultUserAgent,
		delays:    defaultDelays,
		sleep:     sleepWithContext,
		newID:     uuid.NewString,
	}
}

// Dispatch POSTs body to endpoint, retrying transient failures with backoff.
// All failure modes are captured in the returned Result.
func (d *Dispatcher) Dispatch(ctx context.Context, endpoint string, body any, opts ...Option) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return Result{Attempts: 0, Err: fmt.Errorf("dispatch endpoint is required")}
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return Result{Attempts: 0, Err: fmt.Errorf("invalid dispatch endpoint: %w", err)}
	}

	cfg := callConfig{
		maxRetries: defaultMaxRetries,
		timeout:    defaultAttemptTimeout,
		headers:    map[string]string{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	requestID := d.newID()
	maxAttempts := cfg.maxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		statusCode, respBody, err := d.attempt(ctx, trimmedEndpoint, body, cfg, requestID, attempt)
		if err == nil {
			return Result{
				Success:    true,
				Attempts:   attempt,
				StatusCode: statusCode,
				Body:       respBody,
			}
		}

		lastErr = err
		if !IsTransient(err) || attempt == maxAttempts {
			return Result{
				Attempts:   attempt,
				StatusCode: statusCode,
				Body:       respBody,
				Err:        lastErr,
			}
		}

		delay := d.backoffDelay(attempt)
		d.logger.Warn("dispatch attempt failed, retrying",
			zap.String("endpoint", trimmedEndpoint),
			zap.String("requestId", requestID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if sleepErr := d.sleep(ctx, delay); sleepErr != nil {
			return Result{
				Attempts: attempt,
				Err:      fmt.Errorf("dispatch canceled during backoff: %w", sleepErr),
			}
		}
	}

	// Unreachable: the loop always returns. Kept for the compiler.
	return Result{Attempts: maxAttempts, Err: lastErr}
}

func (d *Dispatcher) attempt(
	ctx context.Context,
	endpoint string,
	body any,
	cfg callConfig,
	requestID string,
	attempt int,
) (int, string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	req := d.client.R().
		SetContext(attemptCtx).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", d.userAgent).
		SetHeader("X-Request-ID", fmt.Sprintf("%s-%d", requestID, attempt)).
		SetHeader("X-Retry-Count", strconv.Itoa(attempt-1)).
		SetBody(body)
	for key, value := range cfg.headers {
		req.SetHeader(key, value)
	}

	response, err := req.Post(endpoint)
	if err != nil {
		return 0, "", &DispatchError{
			Message:   "dispatch request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return 0, "", &DispatchError{
			Message:   "dispatch returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return statusCode, responseBody, nil
	}

	return statusCode, responseBody, &DispatchError{
		StatusCode: statusCode,
		Message:    dispatchErrorMessage(statusCode, responseBody),
		Transient:  isRetryableStatus(statusCode),
	}
}

func (d *Dispatcher) backoffDelay(attempt int) time.Duration {
	if len(d.delays) == 0 {
		return time.Second
	}

	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(d.delays) {
		idx = len(d.delays) - 1
	}
	return d.delays[idx]
}

func dispatchErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("endpoint returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

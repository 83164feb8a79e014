package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/salesops/notify-relay/internal/dispatch"
	"go.uber.org/zap"
)

const defaultChatAPIBase = "https://chat.googleapis.com"

// GoogleChatClient sends direct messages through the Google Chat API,
// resolving and caching one DM space per recipient.
type GoogleChatClient struct {
	tokens     *TokenSource
	cache      SpaceCache
	dispatcher *dispatch.Dispatcher
	client     *resty.Client
	logger     *zap.Logger
	apiBase    string

	onCacheHit  func()
	onCacheMiss func()
}

func NewGoogleChatClient(
	tokens *TokenSource,
	cache SpaceCache,
	dispatcher *dispatch.Dispatcher,
	logger *zap.Logger,
) (*GoogleChatClient, error) {
	if tokens == nil {
		return nil, fmt.Errorf("%w: token source is required", ErrNotConfigured)
	}
	if cache == nil {
		return nil, fmt.Errorf("space cache is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GoogleChatClient{
		tokens:     tokens,
		cache:      cache,
		dispatcher: dispatcher,
		client:     resty.New(),
		logger:     logger,
		apiBase:    defaultChatAPIBase,
	}, nil
}

// SetCacheObservers registers hit/miss callbacks for metrics.
func (c *GoogleChatClient) SetCacheObservers(onHit, onMiss func()) {
	c.onCacheHit = onHit
	c.onCacheMiss = onMiss
}

type spaceSetupRequest struct {
	Space       spaceSpec        `json:"space"`
	Memberships []membershipSpec `json:"memberships"`
}

type spaceSpec struct {
	SpaceType string `json:"spaceType"`
}

type membershipSpec struct {
	Member memberSpec `json:"member"`
}

type memberSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type spaceSetupResponse struct {
	Name string `json:"name"`
}

// ResolveSpace returns the DM space handle for a user, consulting the
// cache first. Concurrent misses may each hit the remote setup call; the
// remote operation is find-or-create, so the duplicates are harmless.
func (c *GoogleChatClient) ResolveSpace(ctx context.Context, userID, email string) (string, error) {
	trimmedUserID := strings.TrimSpace(userID)
	trimmedEmail := strings.TrimSpace(email)
	if trimmedEmail == "" {
		return "", fmt.Errorf("recipient email is required")
	}

	if trimmedUserID != "" {
		entry, err := c.cache.Get(ctx, trimmedUserID)
		if err != nil {
			c.logger.Warn("space cache read failed", zap.String("userId", trimmedUserID), zap.Error(err))
		}
		if entry != nil && entry.SpaceHandle != "" {
			if c.onCacheHit != nil {
				c.onCacheHit()
			}
			return entry.SpaceHandle, nil
		}
	}
	if c.onCacheMiss != nil {
		c.onCacheMiss()
	}

	handle, err := c.setupSpace(ctx, trimmedEmail)
	if err != nil {
		return "", err
	}

	if trimmedUserID != "" {
		if err := c.cache.Put(ctx, trimmedUserID, SpaceEntry{Email: trimmedEmail, SpaceHandle: handle}); err != nil {
			// Cache write failure only costs a future duplicate setup call.
			c.logger.Warn("space cache write failed", zap.String("userId", trimmedUserID), zap.Error(err))
		}
	}

	return handle, nil
}

func (c *GoogleChatClient) setupSpace(ctx context.Context, email string) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	reqBody := spaceSetupRequest{
		Space: spaceSpec{SpaceType: "DIRECT_MESSAGE"},
		Memberships: []membershipSpec{
			{Member: memberSpec{Name: "users/" + email, Type: "HUMAN"}},
		},
	}

	var setupResp spaceSetupResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(reqBody).
		SetResult(&setupResp).
		Post(c.apiBase + "/v1/spaces:setup")
	if err != nil {
		return "", fmt.Errorf("space setup request failed: %w", err)
	}
	if response.IsError() {
		return "", fmt.Errorf("space setup returned status %d: %s", response.StatusCode(), strings.TrimSpace(response.String()))
	}
	if setupResp.Name == "" {
		return "", fmt.Errorf("space setup returned no space name")
	}

	return setupResp.Name, nil
}

type chatMessage struct {
	Text string `json:"text"`
}

// SendDM delivers a text message to the user's DM space through the
// retrying dispatcher.
func (c *GoogleChatClient) SendDM(ctx context.Context, userID, email, text string) dispatch.Result {
	space, err := c.ResolveSpace(ctx, userID, email)
	if err != nil {
		return dispatch.Result{Err: err}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return dispatch.Result{Err: err}
	}

	endpoint := fmt.Sprintf("%s/v1/%s/messages", c.apiBase, space)
	return c.dispatcher.Dispatch(ctx, endpoint, chatMessage{Text: text},
		dispatch.WithHeader("Authorization", "Bearer "+token),
	)
}

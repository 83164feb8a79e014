package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNotConfigured marks a missing credential or webhook URL. It is a
// configuration error, never retried.
var ErrNotConfigured = errors.New("chat sender is not configured")

const (
	chatScope        = "https://www.googleapis.com/auth/chat.bot"
	jwtBearerGrant   = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	tokenEarlyExpiry = 60 * time.Second
	assertionTTL     = time.Hour
)

// ServiceAccount holds the fields of a Google service-account key file
// needed for the JWT bearer grant.
type ServiceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// ParseServiceAccount decodes a base64-encoded service-account JSON blob.
func ParseServiceAccount(encoded string) (*ServiceAccount, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: service account credentials are empty", ErrNotConfigured)
	}

	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 service account credentials: %w", err)
	}

	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("invalid service account JSON: %w", err)
	}

	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, fmt.Errorf("service account JSON missing client_email or private_key")
	}
	if sa.TokenURI == "" {
		sa.TokenURI = "https://oauth2.googleapis.com/token"
	}

	return &sa, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// TokenSource exchanges a signed service-account assertion for an access
// token and caches it until shortly before expiry.
type TokenSource struct {
	account *ServiceAccount
	client  *resty.Client
	now     func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewTokenSource(account *ServiceAccount, client *resty.Client) (*TokenSource, error) {
	if account == nil {
		return nil, fmt.Errorf("%w: service account is required", ErrNotConfigured)
	}
	if client == nil {
		client = resty.New()
	}

	return &TokenSource{
		account: account,
		client:  client,
		now:     time.Now,
	}, nil
}

// Token returns a valid access token, minting a new one when the cached
// token is absent or about to expire.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.expires.Add(-tokenEarlyExpiry)) {
		return ts.token, nil
	}

	assertion, err := ts.signAssertion()
	if err != nil {
		return "", err
	}

	var tokenResp tokenResponse
	response, err := ts.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type": jwtBearerGrant,
			"assertion":  assertion,
		}).
		SetResult(&tokenResp).
		Post(ts.account.TokenURI)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	if response.IsError() {
		return "", fmt.Errorf("token exchange returned status %d: %s", response.StatusCode(), strings.TrimSpace(response.String()))
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token exchange returned no access token")
	}

	ts.token = tokenResp.AccessToken
	ts.expires = ts.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)

	return ts.token, nil
}

func (ts *TokenSource) signAssertion() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(ts.account.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("invalid service account private key: %w", err)
	}

	now := ts.now()
	claims := jwt.MapClaims{
		"iss":   ts.account.ClientEmail,
		"scope": chatScope,
		"aud":   ts.account.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionTTL).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return signed, nil
}

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thomasrutger/Connector/core"
)

const defaultTokenResponseLimit int64 = 64 << 10

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type OAuth2ClientCredentialsConfig struct {
	ClientID      string
	ClientSecret  string
	TokenURL      string
	DefaultScopes []string
	// AudienceParam names the form field carrying the counterparty
	// audience. Empty sends "audience".
	AudienceParam string
	// DefaultTTL applies when the token response omits expires_in.
	DefaultTTL  time.Duration
	RenewBefore time.Duration
	Client      HTTPDoer
	Now         func() time.Time
}

// OAuth2ClientCredentialsTokenSource obtains outbound bearer tokens from an
// identity provider with the client credentials grant and caches them per
// audience.
type OAuth2ClientCredentialsTokenSource struct {
	config OAuth2ClientCredentialsConfig
	cache  *tokenCache
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func NewOAuth2ClientCredentialsTokenSource(cfg OAuth2ClientCredentialsConfig) *OAuth2ClientCredentialsTokenSource {
	defaultTTL := cfg.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuth2ClientCredentialsTokenSource{
		config: OAuth2ClientCredentialsConfig{
			ClientID:      strings.TrimSpace(cfg.ClientID),
			ClientSecret:  strings.TrimSpace(cfg.ClientSecret),
			TokenURL:      strings.TrimSpace(cfg.TokenURL),
			DefaultScopes: normalizeValues(cfg.DefaultScopes),
			AudienceParam: firstNonEmpty(cfg.AudienceParam, "audience"),
			DefaultTTL:    defaultTTL,
			RenewBefore:   cfg.RenewBefore,
			Client:        client,
			Now:           defaultNow(cfg.Now),
		},
		cache: newTokenCache(cfg.RenewBefore),
	}
}

func (s *OAuth2ClientCredentialsTokenSource) Token(ctx context.Context, audience string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("auth: oauth2 client credentials source is not configured")
	}
	if s.config.ClientID == "" {
		return "", fmt.Errorf("auth: oauth2 client credentials client_id is required")
	}
	if s.config.ClientSecret == "" {
		return "", fmt.Errorf("auth: oauth2 client credentials client_secret is required")
	}
	if s.config.TokenURL == "" {
		return "", fmt.Errorf("auth: oauth2 client credentials token_url is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	audience = strings.TrimSpace(audience)
	cacheKey := audience + "|" + strings.Join(s.config.DefaultScopes, " ")
	if token, ok := s.cache.lookup(cacheKey, s.config.Now().UTC()); ok {
		return token, nil
	}

	issued, err := s.requestToken(ctx, audience)
	if err != nil {
		return "", err
	}
	ttl := s.config.DefaultTTL
	if issued.ExpiresIn > 0 {
		ttl = time.Duration(issued.ExpiresIn) * time.Second
	}
	s.cache.store(cacheKey, issued.AccessToken, s.config.Now().UTC().Add(ttl))
	return issued.AccessToken, nil
}

func (s *OAuth2ClientCredentialsTokenSource) requestToken(ctx context.Context, audience string) (tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if len(s.config.DefaultScopes) > 0 {
		form.Set("scope", strings.Join(s.config.DefaultScopes, " "))
	}
	if audience != "" {
		form.Set(s.config.AudienceParam, audience)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("auth: create token request: %w", err)
	}
	req.SetBasicAuth(url.QueryEscape(s.config.ClientID), url.QueryEscape(s.config.ClientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := s.config.Client.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("auth: token request failed: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, defaultTokenResponseLimit))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("auth: read token response: %w", err)
	}
	var payload tokenResponse
	decodeErr := json.Unmarshal(raw, &payload)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail := strings.TrimSpace(firstNonEmpty(payload.Description, payload.Error))
		if decodeErr != nil || detail == "" {
			detail = http.StatusText(res.StatusCode)
		}
		return tokenResponse{}, fmt.Errorf("auth: token endpoint returned %d: %s", res.StatusCode, detail)
	}
	if decodeErr != nil {
		return tokenResponse{}, fmt.Errorf("auth: decode token response: %w", decodeErr)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return tokenResponse{}, fmt.Errorf("auth: token response missing access_token")
	}
	if tokenType := strings.TrimSpace(payload.TokenType); tokenType != "" && !strings.EqualFold(tokenType, "bearer") {
		return tokenResponse{}, fmt.Errorf("auth: unsupported token type %q", payload.TokenType)
	}
	return payload, nil
}

var _ core.TokenSource = (*OAuth2ClientCredentialsTokenSource)(nil)

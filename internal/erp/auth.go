package erp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// TokenSource yields the access token sent with every ERP request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed access token.
type StaticToken string

// Token returns the token itself.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("erp: access token is empty")
	}
	return string(t), nil
}

// RefreshTokenSource exchanges a long-lived refresh token for short-lived
// access tokens and caches each one until shortly before it expires.
type RefreshTokenSource struct {
	AccountsURL  string
	ClientID     string
	ClientSecret string
	RefreshToken string
	HTTPClient   *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

// refreshSkew renews the token this long before the reported expiry.
const refreshSkew = time.Minute

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// Token returns the cached token or refreshes it.
func (s *RefreshTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	if s.token != "" && now().Before(s.expires) {
		return s.token, nil
	}

	form := url.Values{}
	form.Set("refresh_token", s.RefreshToken)
	form.Set("client_id", s.ClientID)
	form.Set("client_secret", s.ClientSecret)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.AccountsURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("erp: token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("erp: token refresh failed: %w", err)
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("erp: token refresh returned invalid body (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || parsed.AccessToken == "" {
		return "", fmt.Errorf("erp: token refresh rejected: status=%d error=%s", resp.StatusCode, parsed.Error)
	}

	ttl := time.Duration(parsed.ExpiresIn) * time.Second
	if ttl <= refreshSkew {
		ttl = 2 * refreshSkew
	}
	s.token = parsed.AccessToken
	s.expires = now().Add(ttl - refreshSkew)
	return s.token, nil
}

// Package azure holds the pieces shared by the Azure Cognitive Services
// providers: issuing and caching the short-lived access token that the
// speech recognition and synthesis endpoints require.
//
// Tokens are valid for about ten minutes. The source refreshes after nine,
// and callers that receive a 401 from a downstream endpoint should call
// [TokenSource.Invalidate] and retry once with a fresh token.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultTokenTTL is how long a fetched token is reused before a refresh.
const DefaultTokenTTL = 9 * time.Minute

// TokenEndpoint returns the token issuing URL for an Azure region.
func TokenEndpoint(region string) string {
	return fmt.Sprintf("https://%s.api.cognitive.microsoft.com/sts/v1.0/issueToken", region)
}

// TokenOption is a functional option for configuring a TokenSource.
type TokenOption func(*TokenSource)

// WithHTTPClient sets the HTTP client used for token requests. Defaults to
// a client with a 10 second timeout.
func WithHTTPClient(c *http.Client) TokenOption {
	return func(s *TokenSource) { s.client = c }
}

// WithEndpoint overrides the token issuing URL. Intended for tests.
func WithEndpoint(url string) TokenOption {
	return func(s *TokenSource) { s.endpoint = url }
}

// WithTokenTTL overrides how long tokens are cached.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(s *TokenSource) { s.ttl = ttl }
}

// TokenSource issues and caches Azure Cognitive Services access tokens for
// one subscription key. It is safe for concurrent use and is meant to be
// shared between the recognition and synthesis providers of one region.
type TokenSource struct {
	endpoint string
	key      string
	client   *http.Client
	ttl      time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource creates a TokenSource for the given region and subscription
// key. No network call is made until the first [TokenSource.Token].
func NewTokenSource(region, key string, opts ...TokenOption) (*TokenSource, error) {
	if region == "" {
		return nil, errors.New("azure: region must not be empty")
	}
	if key == "" {
		return nil, errors.New("azure: subscription key must not be empty")
	}
	s := &TokenSource{
		endpoint: TokenEndpoint(region),
		key:      key,
		client:   &http.Client{Timeout: 10 * time.Second},
		ttl:      DefaultTokenTTL,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Token returns a valid access token, fetching a fresh one when the cached
// token is missing or older than the TTL.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("azure: build token request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", s.key)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("azure: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("azure: token request failed: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("azure: read token: %w", err)
	}

	s.token = string(body)
	s.expires = time.Now().Add(s.ttl)
	return s.token, nil
}

// Invalidate discards the cached token so the next [TokenSource.Token]
// fetches a fresh one. Call after a downstream 401.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

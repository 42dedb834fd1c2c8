// Package strava wraps the upstream API: OAuth token lifecycle, activity
// fetches with a fixed retry budget, and the description mutation.
package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/belialboy/stravatotwitter/internal/domain"
)

const (
	// DefaultAPIURL is the upstream REST base.
	DefaultAPIURL = "https://www.strava.com/api/v3"
	// DefaultTokenURL is the OAuth token endpoint.
	DefaultTokenURL = "https://www.strava.com/oauth/token"
)

// TokenPersister stores refreshed token sets before they are used.
type TokenPersister interface {
	UpdateTokens(ctx context.Context, athleteID int64, tokens domain.TokenSet) error
}

// OAuthClient talks to the token endpoint for both grant types.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client
}

// NewOAuthClient constructs an OAuthClient against the default token endpoint.
func NewOAuthClient(clientID, clientSecret string) *OAuthClient {
	return &OAuthClient{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     DefaultTokenURL,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// TokenResponse is the token endpoint's reply. The athlete block is only
// present on authorization-code exchanges.
type TokenResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	ExpiresAt    int64          `json:"expires_at"`
	Athlete      domain.Profile `json:"athlete"`
}

// TokenSet trims the response down to the persisted credential set.
func (r TokenResponse) TokenSet() domain.TokenSet {
	return domain.TokenSet{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    r.ExpiresAt,
	}
}

// ExchangeCode swaps an authorization code for a token set at registration time.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	return c.post(ctx, map[string]string{
		"client_id":     c.ClientID,
		"client_secret": c.ClientSecret,
		"grant_type":    "authorization_code",
		"code":          code,
	})
}

// Refresh exchanges a refresh token for a new token set. Any failure is
// ErrAuthExpired: there is no cached fallback.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (domain.TokenSet, error) {
	resp, err := c.post(ctx, map[string]string{
		"client_id":     c.ClientID,
		"client_secret": c.ClientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("%w: %v", domain.ErrAuthExpired, err)
	}
	return resp.TokenSet(), nil
}

func (c *OAuthClient) post(ctx context.Context, payload map[string]string) (*TokenResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, detail)
	}

	var out TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TokenStore hands out a valid access token for one athlete, refreshing
// inline when the stored set has expired. The refreshed set is persisted
// before it is returned so a crash mid-call never loses the rotation.
type TokenStore struct {
	oauth     *OAuthClient
	persister TokenPersister
	athleteID int64
	now       func() time.Time

	mu     sync.Mutex
	tokens domain.TokenSet
}

// NewTokenStore seeds a TokenStore with the athlete's persisted token set.
func NewTokenStore(oauth *OAuthClient, persister TokenPersister, athleteID int64, tokens domain.TokenSet) *TokenStore {
	return &TokenStore{
		oauth:     oauth,
		persister: persister,
		athleteID: athleteID,
		tokens:    tokens,
		now:       time.Now,
	}
}

// AccessToken returns a currently valid bearer token. Refresh is synchronous
// with the triggering call; there is no background rotation.
func (s *TokenStore) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tokens.Expired(s.now()) {
		return s.tokens.AccessToken, nil
	}

	refreshed, err := s.oauth.Refresh(ctx, s.tokens.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := s.persister.UpdateTokens(ctx, s.athleteID, refreshed); err != nil {
		return "", fmt.Errorf("persisting refreshed tokens: %w", err)
	}
	s.tokens = refreshed
	return refreshed.AccessToken, nil
}

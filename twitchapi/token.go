package twitchapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	dbpkg "github.com/onnwee/tts-tender/db"
)

// TokenGetter yields a bearer token for Helix requests.
type TokenGetter interface {
	Get(ctx context.Context) (string, error)
}

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// NOTE: This token CANNOT be used for IRC chat, whispers, or channel-point
// mutations; those require a user OAuth token (see UserTokenSource).
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second { // 1 min buffer
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.refresh(ctx)
}

// SetToken seeds the cache; used by tests to avoid real OAuth calls.
func (ts *TokenSource) SetToken(tok string, expiresAt time.Time) {
	ts.mu.Lock()
	ts.token = tok
	ts.expiresAt = expiresAt
	ts.mu.Unlock()
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	form := url.Values{}
	form.Set("client_id", ts.ClientID)
	form.Set("client_secret", ts.ClientSecret)
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://id.twitch.tv/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hc := ts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("twitch token request failed: %s: %s", resp.Status, string(b))
	}
	var at struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&at); err != nil {
		return "", err
	}
	if at.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	ts.token = at.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(at.ExpiresIn) * time.Second)
	return ts.token, nil
}

// UserTokenSource yields the broadcaster user access token required for
// whispers, follower lookups, and channel-point mutations. Resolution order:
// a static token (TWITCH_USER_TOKEN, local dev), then the oauth_tokens table,
// refreshing through the configured oauth2.Config when close to expiry.
type UserTokenSource struct {
	DB     *sql.DB
	OAuth  *oauth2.Config
	Static string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Get returns a valid user access token.
func (ts *UserTokenSource) Get(ctx context.Context) (string, error) {
	if ts.Static != "" {
		return ts.Static, nil
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second {
		return ts.token, nil
	}
	if ts.DB == nil {
		return "", errors.New("no user token configured: set TWITCH_USER_TOKEN or complete /auth/twitch/start")
	}
	access, refresh, expiry, scope, err := dbpkg.GetOAuthToken(ctx, ts.DB, "twitch")
	if err != nil {
		return "", fmt.Errorf("load stored twitch token: %w", err)
	}
	if access == "" && refresh == "" {
		return "", errors.New("no stored twitch user token: complete /auth/twitch/start")
	}
	if access != "" && time.Until(expiry) > 60*time.Second {
		ts.token = access
		ts.expiresAt = expiry
		return ts.token, nil
	}
	if ts.OAuth == nil || refresh == "" {
		return "", errors.New("stored twitch user token expired and no refresh path available")
	}
	newTok, err := ts.OAuth.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		return "", fmt.Errorf("refresh twitch user token: %w", err)
	}
	if newTok.RefreshToken == "" {
		newTok.RefreshToken = refresh
	}
	if err := dbpkg.UpsertOAuthToken(ctx, ts.DB, "twitch", newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, scope); err != nil {
		slog.Warn("persist refreshed twitch token failed", slog.Any("err", err))
	}
	ts.token = newTok.AccessToken
	ts.expiresAt = newTok.Expiry
	return ts.token, nil
}

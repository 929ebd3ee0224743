// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs:
// user resolution, follower lookups, whispers, and channel-point rewards.
// App-token calls use a client-credentials TokenSource; calls that mutate
// channel points or send whispers require a user token (UserTokenSource).
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrUserNotFound is returned when a login does not resolve to a Twitch user.
var ErrUserNotFound = errors.New("user not found")

// User is the subset of the Helix user object the bot cares about.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// HelixClient provides the Helix surface used by the bot.
type HelixClient struct {
	AppTokenSource  *TokenSource
	UserTokenSource TokenGetter
	ClientID        string
	HTTPClient      *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) userToken(ctx context.Context) (string, error) {
	if hc.UserTokenSource != nil {
		return hc.UserTokenSource.Get(ctx)
	}
	return hc.AppTokenSource.Get(ctx)
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

func (hc *HelixClient) newRequest(ctx context.Context, method, rawURL, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// GetUserByLogin resolves a login name to a user. Returns ErrUserNotFound when
// the login does not exist.
func (hc *HelixClient) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	req, err := hc.newRequest(ctx, http.MethodGet, "https://api.twitch.tv/helix/users", tok, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("login", login)
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twitch user lookup failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, ErrUserNotFound
	}
	u := body.Data[0]
	return &u, nil
}

// GetChannelFollower returns when userID followed broadcasterID, or nil when
// not following. Requires a user token with moderator:read:followers.
func (hc *HelixClient) GetChannelFollower(ctx context.Context, broadcasterID, userID string) (*time.Time, error) {
	if broadcasterID == "" || userID == "" {
		return nil, fmt.Errorf("broadcasterID/userID empty")
	}
	tok, err := hc.userToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := hc.newRequest(ctx, http.MethodGet, "https://api.twitch.tv/helix/channels/followers", tok, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("broadcaster_id", broadcasterID)
	q.Set("user_id", userID)
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twitch follower lookup failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []struct {
			FollowedAt time.Time `json:"followed_at"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	t := body.Data[0].FollowedAt
	return &t, nil
}

// SendWhisper sends a private message from the bot user to another user.
// Twitch rejects whispers to users with closed DMs; callers are expected to
// fall back to public chat.
func (hc *HelixClient) SendWhisper(ctx context.Context, fromUserID, toUserID, message string) error {
	if fromUserID == "" || toUserID == "" {
		return fmt.Errorf("fromUserID/toUserID empty")
	}
	tok, err := hc.userToken(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return err
	}
	req, err := hc.newRequest(ctx, http.MethodPost, "https://api.twitch.tv/helix/whispers", tok, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("from_user_id", fromUserID)
	q.Set("to_user_id", toUserID)
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusNoContent {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("twitch whisper failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

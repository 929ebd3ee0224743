package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Redemption status values accepted by the Helix channel-points API.
const (
	StatusUnfulfilled = "UNFULFILLED"
	StatusFulfilled   = "FULFILLED"
	StatusCanceled    = "CANCELED"
)

// ErrRewardNotFound is returned when a custom reward id or title does not exist.
var ErrRewardNotFound = errors.New("reward not found")

// Redemption is a pending or settled channel-point redemption.
type Redemption struct {
	ID         string
	UserID     string
	UserLogin  string
	UserInput  string
	RewardID   string
	RedeemedAt time.Time
}

// CustomReward is the subset of the Helix custom reward object the bot manages.
type CustomReward struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Prompt            string `json:"prompt"`
	Cost              int    `json:"cost"`
	IsEnabled         bool   `json:"is_enabled"`
	UserInputRequired bool   `json:"is_user_input_required"`
	IsPaused          bool   `json:"is_paused"`
	IsInStock         bool   `json:"is_in_stock"`
	BackgroundColor   string `json:"background_color"`
}

// CreateRewardParams describes a reward to create on a channel.
type CreateRewardParams struct {
	Title                 string `json:"title"`
	Cost                  int    `json:"cost"`
	Prompt                string `json:"prompt,omitempty"`
	IsEnabled             bool   `json:"is_enabled"`
	UserInputRequired     bool   `json:"is_user_input_required"`
	GlobalCooldownEnabled bool   `json:"is_global_cooldown_enabled"`
	GlobalCooldownSeconds int    `json:"global_cooldown_seconds,omitempty"`
	BackgroundColor       string `json:"background_color,omitempty"`
}

const redemptionsURL = "https://api.twitch.tv/helix/channel_points/custom_rewards/redemptions"
const rewardsURL = "https://api.twitch.tv/helix/channel_points/custom_rewards"

// ListRedemptions returns redemptions for a reward filtered by status, oldest first.
func (hc *HelixClient) ListRedemptions(ctx context.Context, broadcasterID, rewardID, status string, first int) ([]Redemption, error) {
	if broadcasterID == "" || rewardID == "" {
		return nil, fmt.Errorf("broadcasterID/rewardID empty")
	}
	if first <= 0 {
		first = 20
	}
	tok, err := hc.userToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := hc.newRequest(ctx, http.MethodGet, redemptionsURL, tok, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("broadcaster_id", broadcasterID)
	q.Set("reward_id", rewardID)
	q.Set("status", status)
	q.Set("sort", "OLDEST")
	q.Set("first", fmt.Sprintf("%d", first))
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twitch redemption list failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []struct {
			ID         string    `json:"id"`
			UserID     string    `json:"user_id"`
			UserLogin  string    `json:"user_login"`
			UserInput  string    `json:"user_input"`
			RedeemedAt time.Time `json:"redeemed_at"`
			Reward     struct {
				ID string `json:"id"`
			} `json:"reward"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	out := make([]Redemption, 0, len(body.Data))
	for _, r := range body.Data {
		out = append(out, Redemption{
			ID:         r.ID,
			UserID:     r.UserID,
			UserLogin:  r.UserLogin,
			UserInput:  r.UserInput,
			RewardID:   r.Reward.ID,
			RedeemedAt: r.RedeemedAt,
		})
	}
	return out, nil
}

// UpdateRedemptionStatus settles a redemption: CANCELED refunds the points,
// FULFILLED consumes them.
func (hc *HelixClient) UpdateRedemptionStatus(ctx context.Context, broadcasterID, rewardID, redemptionID, status string) error {
	if broadcasterID == "" || rewardID == "" || redemptionID == "" {
		return fmt.Errorf("broadcasterID/rewardID/redemptionID empty")
	}
	tok, err := hc.userToken(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return err
	}
	req, err := hc.newRequest(ctx, http.MethodPatch, redemptionsURL, tok, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("broadcaster_id", broadcasterID)
	q.Set("reward_id", rewardID)
	q.Set("id", redemptionID)
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("twitch redemption update failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

// GetCustomRewards lists the channel's custom rewards.
func (hc *HelixClient) GetCustomRewards(ctx context.Context, broadcasterID string) ([]CustomReward, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	tok, err := hc.userToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := hc.newRequest(ctx, http.MethodGet, rewardsURL, tok, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("broadcaster_id", broadcasterID)
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twitch reward list failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []CustomReward `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetCustomRewardByID fetches one custom reward; ErrRewardNotFound when absent.
func (hc *HelixClient) GetCustomRewardByID(ctx context.Context, broadcasterID, rewardID string) (*CustomReward, error) {
	if broadcasterID == "" || rewardID == "" {
		return nil, fmt.Errorf("broadcasterID/rewardID empty")
	}
	tok, err := hc.userToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := hc.newRequest(ctx, http.MethodGet, rewardsURL, tok, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("broadcaster_id", broadcasterID)
	q.Set("id", rewardID)
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrRewardNotFound
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twitch reward lookup failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []CustomReward `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, ErrRewardNotFound
	}
	r := body.Data[0]
	return &r, nil
}

// CreateCustomReward creates a reward on the channel and returns it.
func (hc *HelixClient) CreateCustomReward(ctx context.Context, broadcasterID string, params CreateRewardParams) (*CustomReward, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	if params.Title == "" || params.Cost <= 0 {
		return nil, fmt.Errorf("reward title/cost required")
	}
	tok, err := hc.userToken(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req, err := hc.newRequest(ctx, http.MethodPost, rewardsURL, tok, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("broadcaster_id", broadcasterID)
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twitch reward create failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []CustomReward `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("empty reward create response")
	}
	r := body.Data[0]
	return &r, nil
}

// DeleteCustomReward removes a reward from the channel.
func (hc *HelixClient) DeleteCustomReward(ctx context.Context, broadcasterID, rewardID string) error {
	if broadcasterID == "" || rewardID == "" {
		return fmt.Errorf("broadcasterID/rewardID empty")
	}
	tok, err := hc.userToken(ctx)
	if err != nil {
		return err
	}
	req, err := hc.newRequest(ctx, http.MethodDelete, rewardsURL, tok, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("broadcaster_id", broadcasterID)
	q.Set("id", rewardID)
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode == http.StatusNotFound {
		return ErrRewardNotFound
	}
	if resp.StatusCode != http.StatusNoContent {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("twitch reward delete failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Client talks to an edge-tts style HTTP synthesis backend: POST a JSON
// request, receive raw MP3 bytes.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

type synthesisRequest struct {
	Input    string  `json:"input"`
	Voice    string  `json:"voice"`
	Locale   string  `json:"locale"`
	Volume   float64 `json:"volume"`
	Pitch    float64 `json:"pitch"`
	Rate     float64 `json:"rate"`
	WordWrap bool    `json:"word_wrap"`
	Emotion  string  `json:"emotion,omitempty"`
}

// Synthesize converts text to audio bytes using the persona's voice parameters.
func (c *Client) Synthesize(ctx context.Context, text string, p Persona) ([]byte, error) {
	if c.Endpoint == "" {
		return nil, fmt.Errorf("speech endpoint not configured")
	}
	if text == "" {
		return nil, fmt.Errorf("empty input text")
	}
	payload, err := json.Marshal(synthesisRequest{
		Input:    text,
		Voice:    p.VoiceID,
		Locale:   p.Locale(),
		Volume:   p.Volume,
		Pitch:    p.Pitch,
		Rate:     p.Rate,
		WordWrap: p.WordWrap,
		Emotion:  p.Emotion,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("speech backend failed: %s: %s", resp.Status, string(b))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("speech backend returned empty audio")
	}
	return audio, nil
}

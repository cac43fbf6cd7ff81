// Package voiceapi is the thin client for the voice platform's REST API,
// used for the optional outbound call-summary hook after analysis.
package voiceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the voice platform API with the gateway's platform key.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a voice platform client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CallSummary is the payload pushed to the platform's summary hook.
type CallSummary struct {
	CallID         string `json:"call_id"`
	AgentID        string `json:"agent_id"`
	Summary        string `json:"summary"`
	Sentiment      string `json:"user_sentiment,omitempty"`
	BookingCreated bool   `json:"booking_created"`
}

// PushCallSummary posts a call summary back to the platform. Best-effort;
// callers log and move on when it fails.
func (c *Client) PushCallSummary(ctx context.Context, summary *CallSummary) error {
	b, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal call summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v2/call-summary", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("call summary push failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("call summary push returned %d", resp.StatusCode)
	}
	return nil
}

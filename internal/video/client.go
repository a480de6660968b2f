package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/medibook/medibook/internal/config"
)

// Client talks to the session provider's REST API. All calls go through a
// circuit breaker so a struggling provider fails reservations fast instead of
// tying up request workers.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[string]
	log     *zap.Logger
}

func NewClient(cfg config.VideoConfig, log *zap.Logger) *Client {
	settings := gobreaker.Settings{
		Name:    "video-provider",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("video provider breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		breaker: gobreaker.NewCircuitBreaker[string](settings),
		log:     log,
	}
}

func (c *Client) CreateSession(ctx context.Context) (string, error) {
	result, err := c.breaker.Execute(func() (string, error) {
		var resp struct {
			SessionID string `json:"session_id"`
		}
		if err := c.post(ctx, "/v1/sessions", map[string]any{"media_mode": "routed"}, &resp); err != nil {
			return "", err
		}
		return resp.SessionID, nil
	})
	if err != nil {
		c.log.Error("creating video session failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return result, nil
}

func (c *Client) IssueToken(ctx context.Context, req TokenRequest) (string, error) {
	result, err := c.breaker.Execute(func() (string, error) {
		body := map[string]any{
			"role":       req.Role,
			"expires_at": req.ExpiresAt.UTC().Format(time.RFC3339),
			"data":       req.Metadata,
		}
		var resp struct {
			Token string `json:"token"`
		}
		if err := c.post(ctx, "/v1/sessions/"+req.SessionID+"/tokens", body, &resp); err != nil {
			return "", err
		}
		return resp.Token, nil
	})
	if err != nil {
		c.log.Error("issuing video token failed",
			zap.String("session_id", req.SessionID),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

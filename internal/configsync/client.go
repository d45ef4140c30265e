// Package configsync pulls the intercom connection settings published by
// the Home Assistant integration and keeps a local copy fresh: an HTTP
// fetch on demand plus a websocket watcher that fires on config updates.
package configsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/micro-ha/intercom-bridge/addon/internal/model"
)

type FetchResult struct {
	Configured bool
	Config     model.IntercomConfig
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://supervisor/core"
	}
	return &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type relayPayload struct {
	Number          int    `json:"number"`
	Name            string `json:"name"`
	DeviceType      string `json:"device_type"`
	PulseDurationMs int    `json:"pulse_duration_ms"`
}

type configResponse struct {
	Configured      bool           `json:"configured"`
	Version         int64          `json:"version"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Host            string         `json:"host"`
	Port            int            `json:"port"`
	Username        string         `json:"username"`
	Password        string         `json:"password"`
	SSL             bool           `json:"ssl"`
	VerifyTLS       bool           `json:"verify_tls"`
	PollIntervalSec int            `json:"poll_interval_sec"`
	EnableCamera    bool           `json:"enable_camera"`
	Relays          []relayPayload `json:"relays"`
}

func (c *Client) FetchConfig(ctx context.Context) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/intercom_bridge/config", nil)
	if err != nil {
		return FetchResult{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return FetchResult{Configured: false}, nil
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return FetchResult{}, fmt.Errorf("config fetch status %d: %s", resp.StatusCode, string(body))
	}

	var payload configResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return FetchResult{}, err
	}
	if !payload.Configured || payload.Host == "" {
		return FetchResult{Configured: false}, nil
	}

	cfg := model.IntercomConfig{
		Version:         payload.Version,
		UpdatedAt:       payload.UpdatedAt.UTC(),
		Host:            payload.Host,
		Port:            payload.Port,
		Username:        payload.Username,
		Password:        payload.Password,
		SSL:             payload.SSL,
		VerifyTLS:       payload.VerifyTLS,
		PollIntervalSec: payload.PollIntervalSec,
		EnableCamera:    payload.EnableCamera,
	}
	for _, relay := range payload.Relays {
		cfg.Relays = append(cfg.Relays, model.RelayConfig{
			Number:          relay.Number,
			Name:            relay.Name,
			DeviceType:      relay.DeviceType,
			PulseDurationMs: relay.PulseDurationMs,
		})
	}
	if cfg.PollIntervalSec < 5 {
		cfg.PollIntervalSec = 5
	}
	return FetchResult{Configured: true, Config: cfg}, nil
}

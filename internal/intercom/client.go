package intercom

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/micro-ha/intercom-bridge/addon/internal/model"
)

const (
	defaultTimeout = 10 * time.Second

	endpointCallStatus = "/api/call/status"
	endpointSystemInfo = "/api/system/info"
	endpointSwitchCaps = "/api/switch/caps"
	endpointSwitchCtrl = "/api/switch/ctrl"
	endpointSnapshot   = "/api/camera/snapshot"
	endpointDirectory  = "/api/dir/query"

	// Device error signalled when the camera cannot serve the requested
	// resolution; triggers the one-shot 640x480 fallback.
	errCodeUnsupportedResolution = 12

	defaultSnapshotWidth  = 640
	defaultSnapshotHeight = 480
)

// Client talks to the intercom HTTP API with basic auth on every request.
type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return NewClientWithHTTPClient(&http.Client{Timeout: defaultTimeout})
}

func NewClientWithHTTPClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = defaultTimeout
	}
	return &Client{httpClient: httpClient}
}

// clientFor returns an http.Client honoring the TLS verification setting.
func (c *Client) clientFor(cfg model.IntercomConfig) *http.Client {
	client := *c.httpClient
	if cfg.SSL {
		var transport *http.Transport
		if existing, ok := client.Transport.(*http.Transport); ok {
			transport = existing.Clone()
		} else if defaultTransport, ok := http.DefaultTransport.(*http.Transport); ok {
			transport = defaultTransport.Clone()
		} else {
			transport = &http.Transport{}
		}
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS} //nolint:gosec
		client.Transport = transport
	}
	return &client
}

// CallStatus fetches the current call snapshot.
func (c *Client) CallStatus(ctx context.Context, cfg model.IntercomConfig) (model.CallStatus, error) {
	var status model.CallStatus
	if err := c.getResult(ctx, cfg, endpointCallStatus, nil, &status); err != nil {
		return model.CallStatus{}, err
	}
	return status, nil
}

// SystemInfo fetches device metadata.
func (c *Client) SystemInfo(ctx context.Context, cfg model.IntercomConfig) (model.SystemInfo, error) {
	var info model.SystemInfo
	if err := c.getResult(ctx, cfg, endpointSystemInfo, nil, &info); err != nil {
		return model.SystemInfo{}, err
	}
	return info, nil
}

// SwitchCaps fetches the relay capability list.
func (c *Client) SwitchCaps(ctx context.Context, cfg model.IntercomConfig) (model.SwitchCaps, error) {
	var caps model.SwitchCaps
	if err := c.getResult(ctx, cfg, endpointSwitchCaps, nil, &caps); err != nil {
		return model.SwitchCaps{}, err
	}
	return caps, nil
}

// Directory returns the peer directory used by the host configuration
// wizard. The device reports either {"users":[...]} or a bare list.
func (c *Client) Directory(ctx context.Context, cfg model.IntercomConfig) ([]model.DirectoryEntry, error) {
	var result json.RawMessage
	if err := c.getResult(ctx, cfg, endpointDirectory, nil, &result); err != nil {
		return nil, err
	}

	var wrapped struct {
		Users []model.DirectoryEntry `json:"users"`
	}
	if err := json.Unmarshal(result, &wrapped); err == nil && wrapped.Users != nil {
		return wrapped.Users, nil
	}
	var entries []model.DirectoryEntry
	if err := json.Unmarshal(result, &entries); err == nil {
		return entries, nil
	}
	return []model.DirectoryEntry{}, nil
}

// SwitchControl pulses or switches a relay via /api/switch/ctrl. The
// returned bool is the device's own success flag.
func (c *Client) SwitchControl(ctx context.Context, cfg model.IntercomConfig, relay int, action string, durationMs int) (bool, error) {
	params := url.Values{}
	params.Set("switch", strconv.Itoa(relay))
	params.Set("action", action)
	if durationMs > 0 {
		params.Set("duration", strconv.Itoa(durationMs))
	}

	body, _, err := c.get(ctx, cfg, endpointSwitchCtrl, params, "application/json")
	if err != nil {
		return false, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false, &APIError{Endpoint: endpointSwitchCtrl, Description: "malformed response: " + err.Error()}
	}
	return env.Success, nil
}

// ConnectionTest verifies connectivity and credentials with one status call.
func (c *Client) ConnectionTest(ctx context.Context, cfg model.IntercomConfig) error {
	_, err := c.CallStatus(ctx, cfg)
	return err
}

// Snapshot fetches one camera frame. Zero width/height select the device
// default resolution. A code-12 error body triggers exactly one retry at
// 640x480 before giving up.
func (c *Client) Snapshot(ctx context.Context, cfg model.IntercomConfig, width, height int) ([]byte, error) {
	if width <= 0 {
		width = defaultSnapshotWidth
	}
	if height <= 0 {
		height = defaultSnapshotHeight
	}

	body, err := c.fetchSnapshot(ctx, cfg, width, height)
	if err == nil {
		return body, nil
	}

	var apiErr *APIError
	fallback := width != defaultSnapshotWidth || height != defaultSnapshotHeight
	if fallback && errors.As(err, &apiErr) && apiErr.Code == errCodeUnsupportedResolution {
		return c.fetchSnapshot(ctx, cfg, defaultSnapshotWidth, defaultSnapshotHeight)
	}
	return nil, err
}

func (c *Client) fetchSnapshot(ctx context.Context, cfg model.IntercomConfig, width, height int) ([]byte, error) {
	params := url.Values{}
	params.Set("source", "internal")
	params.Set("width", strconv.Itoa(width))
	params.Set("height", strconv.Itoa(height))

	body, contentType, err := c.get(ctx, cfg, endpointSnapshot, params, "image/jpeg")
	if err != nil {
		return nil, err
	}
	if strings.Contains(contentType, "image") {
		return body, nil
	}

	var errBody snapshotErrorBody
	if err := json.Unmarshal(body, &errBody); err != nil || errBody.Error.Code == 0 {
		return nil, &APIError{Endpoint: endpointSnapshot, Description: "non-image response: " + contentType}
	}
	return nil, &APIError{Endpoint: endpointSnapshot, Code: errBody.Error.Code, Description: errBody.Error.Description}
}

// getResult performs a GET and unmarshals the envelope's result field.
func (c *Client) getResult(ctx context.Context, cfg model.IntercomConfig, endpoint string, params url.Values, out any) error {
	body, _, err := c.get(ctx, cfg, endpoint, params, "application/json")
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &APIError{Endpoint: endpoint, Description: "malformed response: " + err.Error()}
	}
	if !env.Success {
		apiErr := &APIError{Endpoint: endpoint, Description: "device reported failure"}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Description = env.Error.Description
		}
		return apiErr
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &APIError{Endpoint: endpoint, Description: "malformed result: " + err.Error()}
		}
	}
	return nil
}

// get issues one authenticated GET and returns body and content type, with
// transport failures and auth rejections mapped to the typed taxonomy.
func (c *Client) get(ctx context.Context, cfg model.IntercomConfig, endpoint string, params url.Values, accept string) ([]byte, string, error) {
	target := strings.TrimSuffix(cfg.BaseURL(), "/") + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", &APIError{Endpoint: endpoint, Description: err.Error()}
	}
	req.SetBasicAuth(cfg.Username, cfg.Password)
	req.Header.Set("Accept", accept)

	resp, err := c.clientFor(cfg).Do(req)
	if err != nil {
		return nil, "", wrapTransport(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, "", &AuthenticationError{Endpoint: endpoint}
	}
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, "", &APIError{
			Endpoint:    endpoint,
			Description: fmt.Sprintf("status %d: %s", resp.StatusCode, string(snippet)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", wrapTransport(endpoint, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

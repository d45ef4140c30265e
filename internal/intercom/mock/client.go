package mock

import (
	"context"
	"sync"

	"github.com/micro-ha/intercom-bridge/addon/internal/model"
)

// Call stores one invocation against the mock client.
type Call struct {
	Method     string
	Relay      int
	Action     string
	DurationMs int
	Width      int
	Height     int
}

// Client is a programmable mock implementation of the device client seam.
type Client struct {
	mu    sync.Mutex
	Calls []Call

	CallStatusFunc     func(ctx context.Context, cfg model.IntercomConfig) (model.CallStatus, error)
	SystemInfoFunc     func(ctx context.Context, cfg model.IntercomConfig) (model.SystemInfo, error)
	SwitchCapsFunc     func(ctx context.Context, cfg model.IntercomConfig) (model.SwitchCaps, error)
	SwitchControlFunc  func(ctx context.Context, cfg model.IntercomConfig, relay int, action string, durationMs int) (bool, error)
	SnapshotFunc       func(ctx context.Context, cfg model.IntercomConfig, width, height int) ([]byte, error)
	DirectoryFunc      func(ctx context.Context, cfg model.IntercomConfig) ([]model.DirectoryEntry, error)
	ConnectionTestFunc func(ctx context.Context, cfg model.IntercomConfig) error
}

func (c *Client) record(call Call) {
	c.mu.Lock()
	c.Calls = append(c.Calls, call)
	c.mu.Unlock()
}

func (c *Client) CallStatus(ctx context.Context, cfg model.IntercomConfig) (model.CallStatus, error) {
	c.record(Call{Method: "CallStatus"})
	if c.CallStatusFunc == nil {
		return model.CallStatus{State: "idle"}, nil
	}
	return c.CallStatusFunc(ctx, cfg)
}

func (c *Client) SystemInfo(ctx context.Context, cfg model.IntercomConfig) (model.SystemInfo, error) {
	c.record(Call{Method: "SystemInfo"})
	if c.SystemInfoFunc == nil {
		return model.SystemInfo{}, nil
	}
	return c.SystemInfoFunc(ctx, cfg)
}

func (c *Client) SwitchCaps(ctx context.Context, cfg model.IntercomConfig) (model.SwitchCaps, error) {
	c.record(Call{Method: "SwitchCaps"})
	if c.SwitchCapsFunc == nil {
		return model.SwitchCaps{}, nil
	}
	return c.SwitchCapsFunc(ctx, cfg)
}

func (c *Client) SwitchControl(ctx context.Context, cfg model.IntercomConfig, relay int, action string, durationMs int) (bool, error) {
	c.record(Call{Method: "SwitchControl", Relay: relay, Action: action, DurationMs: durationMs})
	if c.SwitchControlFunc == nil {
		return true, nil
	}
	return c.SwitchControlFunc(ctx, cfg, relay, action, durationMs)
}

func (c *Client) Snapshot(ctx context.Context, cfg model.IntercomConfig, width, height int) ([]byte, error) {
	c.record(Call{Method: "Snapshot", Width: width, Height: height})
	if c.SnapshotFunc == nil {
		return []byte{0xff, 0xd8}, nil
	}
	return c.SnapshotFunc(ctx, cfg, width, height)
}

func (c *Client) Directory(ctx context.Context, cfg model.IntercomConfig) ([]model.DirectoryEntry, error) {
	c.record(Call{Method: "Directory"})
	if c.DirectoryFunc == nil {
		return nil, nil
	}
	return c.DirectoryFunc(ctx, cfg)
}

func (c *Client) ConnectionTest(ctx context.Context, cfg model.IntercomConfig) error {
	c.record(Call{Method: "ConnectionTest"})
	if c.ConnectionTestFunc == nil {
		return nil
	}
	return c.ConnectionTestFunc(ctx, cfg)
}

// CallsSnapshot returns a copy of accumulated calls.
func (c *Client) CallsSnapshot() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.Calls))
	copy(out, c.Calls)
	return out
}

// CountMethod counts recorded calls for one method name.
func (c *Client) CountMethod(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, call := range c.Calls {
		if call.Method == method {
			count++
		}
	}
	return count
}

// Package engine owns the poll cycle for one intercom: it fetches raw
// call status, derives doorbell state, classifies failures and publishes
// an immutable snapshot of derived state to subscribers.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/micro-ha/intercom-bridge/addon/internal/intercom"
	"github.com/micro-ha/intercom-bridge/addon/internal/model"
	"github.com/micro-ha/intercom-bridge/addon/internal/ring"
	"github.com/micro-ha/intercom-bridge/addon/internal/snapshot"
)

// maxRetries bounds consecutive connection failures before the cycle
// escalates from recoverable to fatal.
const maxRetries = 5

// DeviceClient is the seam to the intercom HTTP API.
type DeviceClient interface {
	CallStatus(ctx context.Context, cfg model.IntercomConfig) (model.CallStatus, error)
	SystemInfo(ctx context.Context, cfg model.IntercomConfig) (model.SystemInfo, error)
	SwitchCaps(ctx context.Context, cfg model.IntercomConfig) (model.SwitchCaps, error)
	SwitchControl(ctx context.Context, cfg model.IntercomConfig, relay int, action string, durationMs int) (bool, error)
	Snapshot(ctx context.Context, cfg model.IntercomConfig, width, height int) ([]byte, error)
	Directory(ctx context.Context, cfg model.IntercomConfig) ([]model.DirectoryEntry, error)
	ConnectionTest(ctx context.Context, cfg model.IntercomConfig) error
}

// ConfigSource yields the current integration config, if any.
type ConfigSource interface {
	Get() (model.IntercomConfig, bool)
}

type pendingCycle struct {
	done chan struct{}
	data model.DerivedState
	err  error
}

// Engine is the polling coordinator for one device.
type Engine struct {
	client DeviceClient
	config ConfigSource
	logger *slog.Logger
	now    func() time.Time

	cache *snapshot.Cache

	mu      sync.Mutex
	pending *pendingCycle

	data        *model.DerivedState
	lastSuccess bool
	wasAvail    bool

	prevStatus model.CallStatus
	ringActive bool
	lastRing   time.Time

	failures           int
	authBlockedVersion *int64

	systemInfo *model.SystemInfo
	switchCaps *model.SwitchCaps

	subscribers map[int]func(Event)
	nextSubID   int
}

func New(client DeviceClient, config ConfigSource, logger *slog.Logger) *Engine {
	e := &Engine{
		client:      client,
		config:      config,
		logger:      logger,
		now:         time.Now,
		subscribers: make(map[int]func(Event)),
	}
	e.cache = snapshot.New(e.fetchSnapshot, logger)
	return e
}

// Refresh runs one poll cycle. Concurrent calls coalesce into the cycle
// already in flight and share its outcome.
func (e *Engine) Refresh(ctx context.Context) (model.DerivedState, error) {
	e.mu.Lock()
	if e.pending != nil {
		p := e.pending
		e.mu.Unlock()
		select {
		case <-ctx.Done():
			return model.DerivedState{}, ctx.Err()
		case <-p.done:
			return p.data, p.err
		}
	}
	p := &pendingCycle{done: make(chan struct{})}
	e.pending = p
	e.mu.Unlock()

	p.data, p.err = e.runCycle(ctx)

	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
	close(p.done)

	return p.data, p.err
}

func (e *Engine) runCycle(ctx context.Context) (model.DerivedState, error) {
	cfg, ok := e.config.Get()
	if !ok {
		return model.DerivedState{}, ErrNotConfigured
	}

	e.mu.Lock()
	blocked := e.authBlockedVersion != nil && *e.authBlockedVersion == cfg.Version
	e.mu.Unlock()
	if blocked {
		// Credentials already rejected for this config version; stay off
		// the device until the user reconfigures.
		return model.DerivedState{}, ErrAuthenticationRequired
	}

	status, err := e.client.CallStatus(ctx, cfg)
	if err != nil {
		return model.DerivedState{}, e.classifyFailure(cfg, err)
	}

	e.fetchMetadata(ctx, cfg)

	now := e.now()

	e.mu.Lock()
	e.failures = 0
	e.authBlockedVersion = nil

	active, ringTime := ring.Detect(e.prevStatus, status, e.ringActive, e.lastRing, now)
	edge := ring.RisingEdge(e.prevStatus, status)
	e.prevStatus = status
	e.ringActive = active
	e.lastRing = ringTime

	data := model.DerivedState{
		CallStatus: status,
		RingActive: active,
		Available:  true,
		SystemInfo: e.systemInfo,
		SwitchCaps: e.switchCaps,
		UpdatedAt:  now,
	}
	if !ringTime.IsZero() {
		t := ringTime
		data.LastRingTime = &t
	}
	if status.Caller != nil {
		caller := *status.Caller
		data.CallerInfo = &caller
	}

	e.data = &data
	e.lastSuccess = true
	cameUp := !e.wasAvail
	e.wasAvail = true
	e.mu.Unlock()

	if cameUp {
		e.emit(Event{Type: EventAvailability, At: now, Available: true})
	}
	if edge {
		e.logger.Info("doorbell ring detected", "caller", status.Caller)
		e.emit(Event{Type: EventRing, At: now, Caller: data.CallerInfo})
	}
	return data, nil
}

// classifyFailure turns a device client error into one of the three
// cycle outcomes and maintains the retry counter.
func (e *Engine) classifyFailure(cfg model.IntercomConfig, err error) error {
	now := e.now()

	e.mu.Lock()
	wentDown := e.wasAvail
	e.lastSuccess = false
	e.wasAvail = false

	var out error
	switch intercom.Classify(err) {
	case intercom.KindAuthentication:
		firstReport := e.authBlockedVersion == nil || *e.authBlockedVersion != cfg.Version
		version := cfg.Version
		e.authBlockedVersion = &version
		e.mu.Unlock()
		if firstReport {
			e.logger.Error("authentication failed; reconfigure credentials", "err", err)
		}
		if wentDown {
			e.emit(Event{Type: EventAvailability, At: now, Available: false})
		}
		return ErrAuthenticationRequired

	case intercom.KindConnection, intercom.KindTimeout:
		if e.failures < maxRetries {
			e.failures++
			attempt := e.failures
			delay := backoffDelay(attempt)
			e.mu.Unlock()
			e.logger.Warn("connection error",
				"attempt", attempt, "max", maxRetries, "advisory_backoff", delay, "err", err)
			out = &UpdateFailedError{Err: err, Attempt: attempt, RetryIn: delay}
		} else {
			attempts := e.failures
			e.mu.Unlock()
			e.logger.Error("connection retries exhausted", "attempts", attempts, "err", err)
			out = &ExhaustedRetriesError{Attempts: attempts, Err: err}
		}

	default:
		e.mu.Unlock()
		e.logger.Warn("device api error", "err", err)
		out = &UpdateFailedError{Err: err}
	}

	if wentDown {
		e.emit(Event{Type: EventAvailability, At: now, Available: false})
	}
	return out
}

// backoffDelay computes the advisory exponential backoff: min(2^n, 60)s.
func backoffDelay(attempt int) time.Duration {
	seconds := 1
	for i := 0; i < attempt && seconds < 60; i++ {
		seconds *= 2
	}
	if seconds > 60 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

// fetchMetadata lazily fills device metadata; failures are non-fatal.
func (e *Engine) fetchMetadata(ctx context.Context, cfg model.IntercomConfig) {
	e.mu.Lock()
	haveInfo := e.systemInfo != nil
	haveCaps := e.switchCaps != nil
	e.mu.Unlock()

	if !haveInfo {
		if info, err := e.client.SystemInfo(ctx, cfg); err == nil {
			e.mu.Lock()
			e.systemInfo = &info
			e.mu.Unlock()
		} else {
			e.logger.Debug("system info fetch failed", "err", err)
		}
	}
	if !haveCaps {
		if caps, err := e.client.SwitchCaps(ctx, cfg); err == nil {
			e.mu.Lock()
			e.switchCaps = &caps
			e.mu.Unlock()
		} else {
			e.logger.Debug("switch caps fetch failed", "err", err)
		}
	}
}

// Data returns the last published snapshot, if any cycle has succeeded.
func (e *Engine) Data() (model.DerivedState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.data == nil {
		return model.DerivedState{}, false
	}
	return *e.data, true
}

// LastUpdateSuccess reports whether the most recent cycle succeeded.
func (e *Engine) LastUpdateSuccess() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSuccess
}

// RingActive reports the debounced doorbell state.
func (e *Engine) RingActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data != nil && e.ringActive
}

// LastRingTime returns when the doorbell was last pressed.
func (e *Engine) LastRingTime() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastRing.IsZero() {
		return time.Time{}, false
	}
	return e.lastRing, true
}

// CallerInfo returns the caller attached to the current call, if any.
func (e *Engine) CallerInfo() (model.CallerInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.data == nil || e.data.CallerInfo == nil {
		return model.CallerInfo{}, false
	}
	return *e.data.CallerInfo, true
}

// TriggerRelay pulses a relay. Failures are local: logged, reported as
// false, and never counted against the poll retry state.
func (e *Engine) TriggerRelay(ctx context.Context, relay int, durationMs int) bool {
	cfg, ok := e.config.Get()
	if !ok {
		return false
	}
	success, err := e.client.SwitchControl(ctx, cfg, relay, "trigger", durationMs)
	if err != nil {
		e.logger.Error("relay trigger failed", "relay", relay, "err", err)
		success = false
	} else if !success {
		e.logger.Warn("device rejected relay trigger", "relay", relay)
	}
	e.emit(Event{
		Type: EventActuation, At: e.now(),
		Relay: relay, Action: "trigger", DurationMs: durationMs, Success: success,
	})
	return success
}

// OpenDoor pulses the default door relay with its configured duration.
func (e *Engine) OpenDoor(ctx context.Context) bool {
	cfg, ok := e.config.Get()
	if !ok {
		return false
	}
	relay := cfg.DefaultRelay()
	return e.TriggerRelay(ctx, relay.Number, int(relay.PulseDuration()/time.Millisecond))
}

// Snapshot serves the camera frame through the TTL cache; nil means the
// image is currently unavailable.
func (e *Engine) Snapshot(ctx context.Context, width, height int) []byte {
	return e.cache.Get(ctx, width, height)
}

// TestConnection probes the device with one status call and reports the
// failure kind without touching the poll retry state.
func (e *Engine) TestConnection(ctx context.Context) error {
	cfg, ok := e.config.Get()
	if !ok {
		return ErrNotConfigured
	}
	if err := e.client.ConnectionTest(ctx, cfg); err != nil {
		return err
	}
	return nil
}

// Directory lists the device's call directory for the host wizard.
func (e *Engine) Directory(ctx context.Context) ([]model.DirectoryEntry, error) {
	cfg, ok := e.config.Get()
	if !ok {
		return nil, ErrNotConfigured
	}
	return e.client.Directory(ctx, cfg)
}

func (e *Engine) fetchSnapshot(ctx context.Context, width, height int) ([]byte, error) {
	cfg, ok := e.config.Get()
	if !ok {
		return nil, ErrNotConfigured
	}
	return e.client.Snapshot(ctx, cfg, width, height)
}

// Package actuator implements the timed pulse state machines backing
// relay entities: trigger the device, flip local state, auto-revert after
// the pulse duration unless a newer trigger cancels the pending revert.
package actuator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/micro-ha/intercom-bridge/addon/internal/model"
)

// TriggerFunc pulses one relay on the device and reports success.
type TriggerFunc func(ctx context.Context, relay int, durationMs int) bool

// Relay is a door-style switch: TurnOn pulses the relay and the switch
// reads as on until the pulse duration elapses.
type Relay struct {
	cfg      model.RelayConfig
	trigger  TriggerFunc
	logger   *slog.Logger
	onChange func()

	// opMu serializes the cancel/call/arm sequence so the most recent
	// trigger always wins.
	opMu sync.Mutex

	mu         sync.Mutex
	on         bool
	timer      *time.Timer
	generation uint64
}

func NewRelay(cfg model.RelayConfig, trigger TriggerFunc, logger *slog.Logger, onChange func()) *Relay {
	return &Relay{cfg: cfg, trigger: trigger, logger: logger, onChange: onChange}
}

func (r *Relay) Config() model.RelayConfig { return r.cfg }

func (r *Relay) IsOn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

// TurnOn triggers the relay pulse. On device failure the local state is
// left untouched and false is returned; there is no retry.
func (r *Relay) TurnOn(ctx context.Context) bool {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	gen := r.cancelPending()

	duration := r.cfg.PulseDuration()
	if !r.trigger(ctx, r.cfg.Number, int(duration/time.Millisecond)) {
		r.logger.Warn("relay trigger failed", "relay", r.cfg.Number)
		return false
	}

	r.mu.Lock()
	r.on = true
	r.timer = time.AfterFunc(duration, func() { r.revert(gen) })
	r.mu.Unlock()

	r.notify()
	return true
}

// TurnOff only updates local state; the device pulse ends on its own.
func (r *Relay) TurnOff(_ context.Context) bool {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.cancelPending()
	r.mu.Lock()
	r.on = false
	r.mu.Unlock()

	r.notify()
	return true
}

// cancelPending invalidates any armed revert timer and returns the
// generation the next timer must carry. Stopping a fired or missing timer
// is a no-op, and a stale callback that already escaped Stop sees the
// bumped generation and does nothing.
func (r *Relay) cancelPending() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	return r.generation
}

func (r *Relay) revert(gen uint64) {
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return
	}
	r.on = false
	r.timer = nil
	r.mu.Unlock()
	r.notify()
}

func (r *Relay) notify() {
	if r.onChange != nil {
		r.onChange()
	}
}

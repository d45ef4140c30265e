package actuator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/micro-ha/intercom-bridge/addon/internal/model"
)

// Cover is a gate-style actuator tracking opening/closing motion instead
// of a single on/off flag. Open and Close share one pulse relay; the
// direction only affects the local state presented to the host.
type Cover struct {
	cfg      model.RelayConfig
	trigger  TriggerFunc
	logger   *slog.Logger
	onChange func()

	opMu sync.Mutex

	mu         sync.Mutex
	isOpening  bool
	isClosing  bool
	isClosed   bool
	timer      *time.Timer
	generation uint64
}

func NewCover(cfg model.RelayConfig, trigger TriggerFunc, logger *slog.Logger, onChange func()) *Cover {
	return &Cover{cfg: cfg, trigger: trigger, logger: logger, onChange: onChange, isClosed: true}
}

func (c *Cover) Config() model.RelayConfig { return c.cfg }

func (c *Cover) State() (isOpening, isClosing, isClosed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpening, c.isClosing, c.isClosed
}

// Open pulses the gate relay and marks the cover as opening until the
// pulse duration has elapsed.
func (c *Cover) Open(ctx context.Context) bool {
	return c.move(ctx, true)
}

// Close pulses the gate relay and marks the cover as closing until the
// pulse duration has elapsed.
func (c *Cover) Close(ctx context.Context) bool {
	return c.move(ctx, false)
}

func (c *Cover) move(ctx context.Context, opening bool) bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	gen := c.cancelPending()

	duration := c.cfg.PulseDuration()
	if !c.trigger(ctx, c.cfg.Number, int(duration/time.Millisecond)) {
		c.logger.Warn("cover trigger failed", "relay", c.cfg.Number, "opening", opening)
		return false
	}

	c.mu.Lock()
	c.isOpening = opening
	c.isClosing = !opening
	if opening {
		c.isClosed = false
	}
	c.timer = time.AfterFunc(duration, func() { c.settle(gen, opening) })
	c.mu.Unlock()

	c.notify()
	return true
}

func (c *Cover) cancelPending() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return c.generation
}

func (c *Cover) settle(gen uint64, opened bool) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.isOpening = false
	c.isClosing = false
	c.isClosed = !opened
	c.timer = nil
	c.mu.Unlock()
	c.notify()
}

func (c *Cover) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}

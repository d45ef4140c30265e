package actuator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/micro-ha/intercom-bridge/addon/internal/model"
)

// Lock is a door-style actuator with lock semantics: Unlock performs the
// pulse-and-revert sequence (the door strike re-locks on its own), Lock
// is a local flip only, and Open is an alias for Unlock.
type Lock struct {
	cfg      model.RelayConfig
	trigger  TriggerFunc
	logger   *slog.Logger
	onChange func()

	opMu sync.Mutex

	mu         sync.Mutex
	isLocked   bool
	timer      *time.Timer
	generation uint64
}

func NewLock(cfg model.RelayConfig, trigger TriggerFunc, logger *slog.Logger, onChange func()) *Lock {
	return &Lock{cfg: cfg, trigger: trigger, logger: logger, onChange: onChange, isLocked: true}
}

func (l *Lock) Config() model.RelayConfig { return l.cfg }

func (l *Lock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLocked
}

// Unlock pulses the relay; the lock reads unlocked until the pulse
// duration elapses, then reverts to locked.
func (l *Lock) Unlock(ctx context.Context) bool {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	gen := l.cancelPending()

	duration := l.cfg.PulseDuration()
	if !l.trigger(ctx, l.cfg.Number, int(duration/time.Millisecond)) {
		l.logger.Warn("unlock trigger failed", "relay", l.cfg.Number)
		return false
	}

	l.mu.Lock()
	l.isLocked = false
	l.timer = time.AfterFunc(duration, func() { l.relock(gen) })
	l.mu.Unlock()

	l.notify()
	return true
}

// Lock flips local state only; the strike hardware locks by itself when
// the pulse ends.
func (l *Lock) Lock(_ context.Context) bool {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.cancelPending()
	l.mu.Lock()
	l.isLocked = true
	l.mu.Unlock()

	l.notify()
	return true
}

// Open opens the door, which for a strike lock is the unlock pulse.
func (l *Lock) Open(ctx context.Context) bool {
	return l.Unlock(ctx)
}

func (l *Lock) cancelPending() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	return l.generation
}

func (l *Lock) relock(gen uint64) {
	l.mu.Lock()
	if gen != l.generation {
		l.mu.Unlock()
		return
	}
	l.isLocked = true
	l.timer = nil
	l.mu.Unlock()
	l.notify()
}

func (l *Lock) notify() {
	if l.onChange != nil {
		l.onChange()
	}
}

// Package poller drives the refresh loop: a periodic tick at the
// configured interval, coalesced manual refresh requests, and a suspend
// latch once retries are exhausted.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/micro-ha/intercom-bridge/addon/internal/engine"
	"github.com/micro-ha/intercom-bridge/addon/internal/model"
)

// ConfigSource reports the current intercom configuration, if any.
type ConfigSource interface {
	Get() (model.IntercomConfig, bool)
}

type Poller struct {
	engine    *engine.Engine
	config    ConfigSource
	refreshCh chan struct{}
	logger    *slog.Logger

	// suspendedVersion is the config version under which polling gave up
	// after exhausting retries or hitting an auth failure. Polling stays
	// paused until the version changes or a manual refresh arrives.
	suspendedVersion int64
	suspended        bool
}

func New(eng *engine.Engine, cfg ConfigSource, logger *slog.Logger) *Poller {
	return &Poller{engine: eng, config: cfg, refreshCh: make(chan struct{}, 1), logger: logger}
}

// TriggerRefresh requests an immediate poll. Requests arriving while one
// is already queued coalesce into a single cycle. A manual refresh also
// lifts a retry-exhaustion suspension.
func (p *Poller) TriggerRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		interval := 30 * time.Second
		version := int64(0)
		if cfg, ok := p.config.Get(); ok {
			interval = cfg.PollInterval()
			version = cfg.Version
		}
		if p.suspended && version != p.suspendedVersion {
			p.suspended = false
		}

		timer := time.NewTimer(interval)
		manual := false
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.refreshCh:
			timer.Stop()
			manual = true
		case <-timer.C:
		}

		if p.suspended && !manual {
			continue
		}
		if manual {
			p.suspended = false
		}

		if _, err := p.engine.Refresh(ctx); err != nil {
			p.handleError(err, version)
		}
	}
}

func (p *Poller) handleError(err error, version int64) {
	var exhausted *engine.ExhaustedRetriesError
	switch {
	case errors.Is(err, engine.ErrNotConfigured):
		p.logger.Info("poll skipped; intercom not configured")
	case errors.Is(err, engine.ErrAuthenticationRequired):
		p.suspend(version)
		p.logger.Warn("polling paused until credentials change", "err", err)
	case errors.As(err, &exhausted):
		p.suspend(version)
		p.logger.Error("polling paused after exhausting retries",
			"attempts", exhausted.Attempts, "err", exhausted.Err)
	default:
		p.logger.Error("poll failed", "err", err)
	}
}

func (p *Poller) suspend(version int64) {
	p.suspended = true
	p.suspendedVersion = version
}

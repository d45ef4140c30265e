package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/micro-ha/intercom-bridge/addon/internal/actuator"
	"github.com/micro-ha/intercom-bridge/addon/internal/config"
	"github.com/micro-ha/intercom-bridge/addon/internal/configsync"
	"github.com/micro-ha/intercom-bridge/addon/internal/engine"
	httpapi "github.com/micro-ha/intercom-bridge/addon/internal/http"
	"github.com/micro-ha/intercom-bridge/addon/internal/intercom"
	"github.com/micro-ha/intercom-bridge/addon/internal/logging"
	"github.com/micro-ha/intercom-bridge/addon/internal/model"
	"github.com/micro-ha/intercom-bridge/addon/internal/mqtt"
	"github.com/micro-ha/intercom-bridge/addon/internal/poller"
	"github.com/micro-ha/intercom-bridge/addon/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		logger.Error("failed to create db directory", "err", err)
		os.Exit(1)
	}
	journal, err := storage.New(ctx, cfg.DBPath, logging.Component(logger, "storage"))
	if err != nil {
		logger.Error("failed to initialize journal", "err", err)
		os.Exit(1)
	}
	defer journal.Close()

	cfgClient := configsync.NewClient(cfg.SupervisorURL, cfg.SupervisorToken)
	cfgManager := configsync.NewManager(cfgClient, logging.Component(logger, "configsync"))
	if _, err := cfgManager.Refresh(ctx); err != nil {
		logger.Warn("initial config refresh failed", "err", err)
	}

	deviceClient := intercom.NewClient()
	eng := engine.New(deviceClient, cfgManager, logging.Component(logger, "engine"))

	hub := httpapi.NewHub(logging.Component(logger, "ws"))
	eng.Subscribe(hub.Broadcast)
	eng.Subscribe(journalSubscriber(journal, logger))

	var publisher *mqtt.Publisher
	if cfg.MQTTEnabled() {
		publisher, err = mqtt.New(mqtt.Config{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, logging.Component(logger, "mqtt"))
		if err != nil {
			logger.Warn("mqtt publisher disabled", "err", err)
		} else {
			defer publisher.Close()
			eng.Subscribe(publisher.HandleEvent)
		}
	}

	// Actuator auto-reverts happen on timers, not HTTP requests, so the
	// frontend and broker are pushed the fresh state as it changes.
	var actuators *actuator.Manager
	notifyActuators := func() {
		states := actuators.States()
		hub.BroadcastActuatorStates(states)
		if publisher != nil {
			publisher.HandleActuatorStates(states)
		}
	}
	actuators = actuator.NewManager(eng.TriggerRelay, logging.Component(logger, "actuator"), notifyActuators)
	if intercomCfg, ok := cfgManager.Get(); ok {
		actuators.Apply(intercomCfg)
	}
	devicePoller := poller.New(eng, cfgManager, logging.Component(logger, "poller"))

	applyConfig := func() {
		if intercomCfg, ok := cfgManager.Get(); ok {
			actuators.Apply(intercomCfg)
		}
		devicePoller.TriggerRefresh()
	}

	go runConfigFallbackRefresh(ctx, cfg.ConfigRefreshInterval, cfgManager, applyConfig, logger)
	go runJournalPrune(ctx, journal, cfg.JournalRetention, logger)

	if cfg.SupervisorToken != "" {
		watcher := configsync.NewWatcher(cfg.SupervisorURL, cfg.SupervisorToken, logging.Component(logger, "configsync"))
		go watcher.Run(ctx, func() {
			refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			changed, err := cfgManager.Refresh(refreshCtx)
			if err != nil {
				logger.Warn("config refresh from event failed", "err", err)
				return
			}
			if changed {
				applyConfig()
			}
		})
	} else {
		logger.Warn("SUPERVISOR_TOKEN is empty; config sync watcher disabled")
	}

	go devicePoller.Run(ctx)
	devicePoller.TriggerRefresh()

	api := httpapi.New(eng, actuators, devicePoller, cfgManager, journal, hub,
		logging.Component(logger, "http"), cfg.FrontendDist)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting", "addr", httpServer.Addr)
	if err := httpapi.RunServer(ctx, httpServer, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated with error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// journalSubscriber records ring and actuation events for the history API.
func journalSubscriber(journal *storage.Journal, logger *slog.Logger) func(engine.Event) {
	return func(event engine.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		switch event.Type {
		case engine.EventRing:
			caller := model.CallerInfo{}
			if event.Caller != nil {
				caller = *event.Caller
			}
			if _, err := journal.RecordRing(ctx, event.At, caller); err != nil {
				logger.Warn("failed to journal ring", "err", err)
			}
		case engine.EventActuation:
			if _, err := journal.RecordActuation(ctx, event.At, event.Relay, event.Action, event.DurationMs, event.Success); err != nil {
				logger.Warn("failed to journal actuation", "err", err)
			}
		}
	}
}

func runConfigFallbackRefresh(ctx context.Context, interval time.Duration, cfg *configsync.Manager, onChanged func(), logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			changed, err := cfg.Refresh(refreshCtx)
			cancel()
			if err != nil {
				logger.Warn("periodic config refresh failed", "err", err)
				continue
			}
			if changed {
				onChanged()
			}
		}
	}
}

func runJournalPrune(ctx context.Context, journal *storage.Journal, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := journal.Prune(pruneCtx, time.Now().Add(-retention))
			cancel()
			if err != nil {
				logger.Warn("journal prune failed", "err", err)
			}
		}
	}
}

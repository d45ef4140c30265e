// Package httpapi exposes the bridge state and controls to the frontend:
// a JSON API over chi plus a websocket stream of engine events.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/micro-ha/intercom-bridge/addon/internal/actuator"
	"github.com/micro-ha/intercom-bridge/addon/internal/configsync"
	"github.com/micro-ha/intercom-bridge/addon/internal/engine"
	"github.com/micro-ha/intercom-bridge/addon/internal/intercom"
	"github.com/micro-ha/intercom-bridge/addon/internal/model"
	"github.com/micro-ha/intercom-bridge/addon/internal/poller"
	"github.com/micro-ha/intercom-bridge/addon/internal/storage"
)

type API struct {
	engine    *engine.Engine
	actuators *actuator.Manager
	poller    *poller.Poller
	config    *configsync.Manager
	journal   *storage.Journal
	hub       *Hub
	logger    *slog.Logger
	staticDir string
}

func New(eng *engine.Engine, actuators *actuator.Manager, p *poller.Poller, cfg *configsync.Manager, journal *storage.Journal, hub *Hub, logger *slog.Logger, staticDir string) *API {
	return &API{
		engine:    eng,
		actuators: actuators,
		poller:    p,
		config:    cfg,
		journal:   journal,
		hub:       hub,
		logger:    logger,
		staticDir: staticDir,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(a.logger))
	r.Use(StripIngressPrefix)

	r.Get("/healthz", a.health)
	r.Route("/api", func(api chi.Router) {
		api.Get("/state", a.state)
		api.Post("/refresh", a.refresh)
		api.Post("/connection_test", a.connectionTest)
		api.Get("/snapshot", a.snapshot)
		api.Get("/directory", a.directory)
		api.Post("/door/open", a.openDoor)
		api.Post("/relays/{number}/on", a.relayOn)
		api.Post("/relays/{number}/off", a.relayOff)
		api.Post("/covers/{number}/open", a.coverOpen)
		api.Post("/covers/{number}/close", a.coverClose)
		api.Post("/lock/unlock", a.lockUnlock)
		api.Post("/lock/lock", a.lockLock)
		api.Get("/history/rings", a.ringHistory)
		api.Get("/history/actuations", a.actuationHistory)
		if a.hub != nil {
			api.Get("/ws", a.hub.ServeHTTP)
		}
	})

	r.Get("/*", a.static)
	r.Get("/", a.static)
	return r
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	_, configured := a.config.Get()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "configured": configured})
}

type stateResponse struct {
	Configured        bool                `json:"configured"`
	Available         bool                `json:"available"`
	LastUpdateSuccess bool                `json:"last_update_success"`
	CallStatus        model.CallStatus    `json:"call_status"`
	RingActive        bool                `json:"ring_active"`
	LastRingTime      *time.Time          `json:"last_ring_time,omitempty"`
	Caller            *model.CallerInfo   `json:"caller,omitempty"`
	SystemInfo        *model.SystemInfo   `json:"system_info,omitempty"`
	SwitchCaps        *model.SwitchCaps   `json:"switch_caps,omitempty"`
	Actuators         []actuator.State    `json:"actuators"`
	StreamURL         string              `json:"stream_url,omitempty"`
	UpdatedAt         *time.Time          `json:"updated_at,omitempty"`
}

func (a *API) state(w http.ResponseWriter, r *http.Request) {
	cfg, configured := a.config.Get()
	if !configured {
		writeError(w, http.StatusConflict, "not_configured", "Intercom not configured")
		return
	}

	resp := stateResponse{
		Configured:        true,
		LastUpdateSuccess: a.engine.LastUpdateSuccess(),
		Actuators:         a.actuators.States(),
	}
	if data, ok := a.engine.Data(); ok {
		resp.Available = data.Available
		resp.CallStatus = data.CallStatus
		resp.RingActive = data.RingActive
		resp.LastRingTime = data.LastRingTime
		resp.Caller = data.CallerInfo
		resp.SystemInfo = data.SystemInfo
		resp.SwitchCaps = data.SwitchCaps
		updatedAt := data.UpdatedAt
		resp.UpdatedAt = &updatedAt
	}
	if cfg.EnableCamera {
		// Credentials stay redacted unless the caller asks for the
		// playable URL explicitly.
		resp.StreamURL = cfg.RTSPURL(r.URL.Query().Get("credentials") == "1")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) refresh(w http.ResponseWriter, _ *http.Request) {
	a.poller.TriggerRefresh()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (a *API) connectionTest(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.TestConnection(r.Context()); err != nil {
		if errors.Is(err, engine.ErrNotConfigured) {
			writeError(w, http.StatusConflict, "not_configured", "Intercom not configured")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":   false,
			"kind": intercom.Classify(err).String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) snapshot(w http.ResponseWriter, r *http.Request) {
	cfg, ok := a.config.Get()
	if !ok {
		writeError(w, http.StatusConflict, "not_configured", "Intercom not configured")
		return
	}
	if !cfg.EnableCamera {
		writeError(w, http.StatusNotFound, "camera_disabled", "Camera is disabled")
		return
	}

	width := queryInt(r, "width", 1280)
	height := queryInt(r, "height", 720)
	image := a.engine.Snapshot(r.Context(), width, height)
	if len(image) == 0 {
		writeError(w, http.StatusNotFound, "snapshot_unavailable", "No snapshot available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(image)
}

func (a *API) directory(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.config.Get(); !ok {
		writeError(w, http.StatusConflict, "not_configured", "Intercom not configured")
		return
	}
	entries, err := a.engine.Directory(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "directory_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) openDoor(w http.ResponseWriter, r *http.Request) {
	lock, ok := a.actuators.Lock()
	if !ok {
		writeError(w, http.StatusConflict, "not_configured", "No door relay configured")
		return
	}
	if !lock.Open(r.Context()) {
		writeError(w, http.StatusBadGateway, "actuation_failed", "Device rejected the door open command")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) relayOn(w http.ResponseWriter, r *http.Request) {
	relay, ok := a.lookupRelay(w, r)
	if !ok {
		return
	}
	if !relay.TurnOn(r.Context()) {
		writeError(w, http.StatusBadGateway, "actuation_failed", "Device rejected the relay command")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) relayOff(w http.ResponseWriter, r *http.Request) {
	relay, ok := a.lookupRelay(w, r)
	if !ok {
		return
	}
	relay.TurnOff(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) coverOpen(w http.ResponseWriter, r *http.Request) {
	cover, ok := a.lookupCover(w, r)
	if !ok {
		return
	}
	if !cover.Open(r.Context()) {
		writeError(w, http.StatusBadGateway, "actuation_failed", "Device rejected the open command")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) coverClose(w http.ResponseWriter, r *http.Request) {
	cover, ok := a.lookupCover(w, r)
	if !ok {
		return
	}
	if !cover.Close(r.Context()) {
		writeError(w, http.StatusBadGateway, "actuation_failed", "Device rejected the close command")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) lockUnlock(w http.ResponseWriter, r *http.Request) {
	lock, ok := a.actuators.Lock()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "No lock configured")
		return
	}
	if !lock.Unlock(r.Context()) {
		writeError(w, http.StatusBadGateway, "actuation_failed", "Device rejected the unlock command")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) lockLock(w http.ResponseWriter, r *http.Request) {
	lock, ok := a.actuators.Lock()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "No lock configured")
		return
	}
	lock.Lock(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) ringHistory(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []model.RingEvent{}})
		return
	}
	events, err := a.journal.RecentRings(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	if events == nil {
		events = []model.RingEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

func (a *API) actuationHistory(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []model.ActuationRecord{}})
		return
	}
	records, err := a.journal.RecentActuations(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	if records == nil {
		records = []model.ActuationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (a *API) lookupRelay(w http.ResponseWriter, r *http.Request) (*actuator.Relay, bool) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_relay", "Relay number must be an integer")
		return nil, false
	}
	relay, ok := a.actuators.Relay(number)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Relay not configured")
		return nil, false
	}
	return relay, true
}

func (a *API) lookupCover(w http.ResponseWriter, r *http.Request) (*actuator.Cover, bool) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_relay", "Relay number must be an integer")
		return nil, false
	}
	cover, ok := a.actuators.Cover(number)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Cover not configured")
		return nil, false
	}
	return cover, true
}

func (a *API) static(w http.ResponseWriter, r *http.Request) {
	if a.staticDir == "" {
		writeError(w, http.StatusNotFound, "frontend_missing", "Frontend dist not found")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}
	cleanPath := strings.TrimPrefix(filepath.Clean("/"+path), "/")
	fullPath := filepath.Join(a.staticDir, cleanPath)
	if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
		http.ServeFile(w, r, fullPath)
		return
	}
	http.ServeFile(w, r, filepath.Join(a.staticDir, "index.html"))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

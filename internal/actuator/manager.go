package actuator

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/micro-ha/intercom-bridge/addon/internal/model"
)

// State is one actuator's externally visible snapshot.
type State struct {
	Relay      int    `json:"relay"`
	Name       string `json:"name"`
	DeviceType string `json:"device_type"`

	On        *bool `json:"on,omitempty"`
	IsOpening *bool `json:"is_opening,omitempty"`
	IsClosing *bool `json:"is_closing,omitempty"`
	IsClosed  *bool `json:"is_closed,omitempty"`
	IsLocked  *bool `json:"is_locked,omitempty"`
}

// Manager owns the per-relay actuators for one device and rebuilds them
// when the integration config changes. Existing actuators keep their
// state across Apply calls; only added or removed relays change the set.
type Manager struct {
	trigger  TriggerFunc
	logger   *slog.Logger
	onChange func()

	mu     sync.Mutex
	relays map[int]*Relay
	covers map[int]*Cover
	lock   *Lock
}

func NewManager(trigger TriggerFunc, logger *slog.Logger, onChange func()) *Manager {
	return &Manager{
		trigger:  trigger,
		logger:   logger,
		onChange: onChange,
		relays:   make(map[int]*Relay),
		covers:   make(map[int]*Cover),
	}
}

// Apply reconciles the actuator set against the configured relays:
// door relays get switch semantics, gate relays get cover semantics,
// and the default door relay additionally backs the lock entity.
func (m *Manager) Apply(cfg model.IntercomConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seenRelays := make(map[int]bool)
	seenCovers := make(map[int]bool)

	for _, relayCfg := range cfg.Relays {
		switch relayCfg.DeviceType {
		case model.DeviceTypeGate:
			seenCovers[relayCfg.Number] = true
			if existing, ok := m.covers[relayCfg.Number]; !ok || existing.cfg != relayCfg {
				m.covers[relayCfg.Number] = NewCover(relayCfg, m.trigger, m.logger, m.onChange)
			}
		default:
			seenRelays[relayCfg.Number] = true
			if existing, ok := m.relays[relayCfg.Number]; !ok || existing.cfg != relayCfg {
				m.relays[relayCfg.Number] = NewRelay(relayCfg, m.trigger, m.logger, m.onChange)
			}
		}
	}

	for number := range m.relays {
		if !seenRelays[number] {
			delete(m.relays, number)
		}
	}
	for number := range m.covers {
		if !seenCovers[number] {
			delete(m.covers, number)
		}
	}

	lockCfg := cfg.DefaultRelay()
	if m.lock == nil || m.lock.cfg != lockCfg {
		m.lock = NewLock(lockCfg, m.trigger, m.logger, m.onChange)
	}
}

func (m *Manager) Relay(number int) (*Relay, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	relay, ok := m.relays[number]
	return relay, ok
}

func (m *Manager) Cover(number int) (*Cover, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cover, ok := m.covers[number]
	return cover, ok
}

func (m *Manager) Lock() (*Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lock, m.lock != nil
}

// States lists all actuator snapshots ordered by relay number.
func (m *Manager) States() []State {
	m.mu.Lock()
	relays := make([]*Relay, 0, len(m.relays))
	for _, relay := range m.relays {
		relays = append(relays, relay)
	}
	covers := make([]*Cover, 0, len(m.covers))
	for _, cover := range m.covers {
		covers = append(covers, cover)
	}
	lock := m.lock
	m.mu.Unlock()

	states := make([]State, 0, len(relays)+len(covers)+1)
	for _, relay := range relays {
		on := relay.IsOn()
		states = append(states, State{
			Relay: relay.cfg.Number, Name: relay.cfg.Name, DeviceType: relay.cfg.DeviceType,
			On: &on,
		})
	}
	for _, cover := range covers {
		opening, closing, closed := cover.State()
		states = append(states, State{
			Relay: cover.cfg.Number, Name: cover.cfg.Name, DeviceType: cover.cfg.DeviceType,
			IsOpening: &opening, IsClosing: &closing, IsClosed: &closed,
		})
	}
	if lock != nil {
		locked := lock.IsLocked()
		states = append(states, State{
			Relay: lock.cfg.Number, Name: lock.cfg.Name + " Lock", DeviceType: lock.cfg.DeviceType,
			IsLocked: &locked,
		})
	}

	sort.Slice(states, func(i, j int) bool {
		if states[i].Relay != states[j].Relay {
			return states[i].Relay < states[j].Relay
		}
		return states[i].Name < states[j].Name
	})
	return states
}

package model

import "time"

// CallStateRinging is the only call state the bridge interprets; every
// other value reported by the device is carried through as an opaque token.
const CallStateRinging = "ringing"

// CallerInfo identifies the remote party of an intercom call.
type CallerInfo struct {
	Name   string `json:"name,omitempty"`
	Number string `json:"number,omitempty"`
	Button string `json:"button,omitempty"`
}

// CallStatus is the raw call snapshot returned by /api/call/status.
type CallStatus struct {
	State     string      `json:"state"`
	Direction string      `json:"direction,omitempty"`
	Caller    *CallerInfo `json:"caller,omitempty"`
}

// Ringing reports whether the snapshot shows an incoming ring.
func (s CallStatus) Ringing() bool {
	return s.State == CallStateRinging
}

// SystemInfo carries device metadata from /api/system/info.
type SystemInfo struct {
	Variant      string `json:"variant,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	SWVersion    string `json:"swVersion,omitempty"`
	HWVersion    string `json:"hwVersion,omitempty"`
	DeviceName   string `json:"deviceName,omitempty"`
}

// SwitchCaps lists the relay outputs the device reports via /api/switch/caps.
type SwitchCaps struct {
	Switches []SwitchCap `json:"switches"`
}

type SwitchCap struct {
	Switch  int    `json:"switch"`
	Enabled bool   `json:"enabled"`
	Mode    string `json:"mode,omitempty"`
}

// DirectoryEntry is one peer from /api/dir/query, consumed by the host
// configuration wizard only.
type DirectoryEntry struct {
	UUID    string   `json:"uuid,omitempty"`
	Name    string   `json:"name"`
	Email   string   `json:"email,omitempty"`
	Numbers []string `json:"numbers,omitempty"`
}

// DerivedState is the engine's published snapshot. A value is immutable
// once published; each successful poll cycle replaces it wholesale.
type DerivedState struct {
	CallStatus   CallStatus  `json:"call_status"`
	RingActive   bool        `json:"ring_active"`
	LastRingTime *time.Time  `json:"last_ring_time,omitempty"`
	CallerInfo   *CallerInfo `json:"caller_info,omitempty"`
	Available    bool        `json:"available"`
	SystemInfo   *SystemInfo `json:"system_info,omitempty"`
	SwitchCaps   *SwitchCaps `json:"switch_caps,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// RingEvent is one journaled doorbell press.
type RingEvent struct {
	ID           string    `json:"id"`
	At           time.Time `json:"at"`
	CallerName   string    `json:"caller_name,omitempty"`
	CallerNumber string    `json:"caller_number,omitempty"`
	Button       string    `json:"button,omitempty"`
}

// ActuationRecord is one journaled relay actuation attempt.
type ActuationRecord struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	Relay      int       `json:"relay"`
	Action     string    `json:"action"`
	DurationMs int       `json:"duration_ms"`
	Success    bool      `json:"success"`
}

package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	DeviceTypeDoor = "door"
	DeviceTypeGate = "gate"

	// Pulse defaults in milliseconds per relay device type.
	DefaultPulseDurationMs = 2000
	DefaultGateDurationMs  = 15000

	minPollInterval = 5 * time.Second
)

// RelayConfig describes one relay output on the intercom and how the
// bridge should present it (door-style switch/lock or gate-style cover).
type RelayConfig struct {
	Number          int    `json:"number"`
	Name            string `json:"name"`
	DeviceType      string `json:"device_type"`
	PulseDurationMs int    `json:"pulse_duration_ms"`
}

// PulseDuration returns the configured pulse length, falling back to the
// per-type default when unset.
func (r RelayConfig) PulseDuration() time.Duration {
	ms := r.PulseDurationMs
	if ms <= 0 {
		if r.DeviceType == DeviceTypeGate {
			ms = DefaultGateDurationMs
		} else {
			ms = DefaultPulseDurationMs
		}
	}
	return time.Duration(ms) * time.Millisecond
}

// IntercomConfig represents a normalized integration configuration payload.
type IntercomConfig struct {
	Version         int64         `json:"version"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	SSL             bool          `json:"ssl"`
	VerifyTLS       bool          `json:"verify_tls"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	PollIntervalSec int           `json:"poll_interval_sec"`
	EnableCamera    bool          `json:"enable_camera"`
	Relays          []RelayConfig `json:"relays"`
}

func (c IntercomConfig) PollInterval() time.Duration {
	interval := time.Duration(c.PollIntervalSec) * time.Second
	if interval < minPollInterval {
		return minPollInterval
	}
	return interval
}

func (c IntercomConfig) scheme() string {
	if c.SSL {
		return "https"
	}
	return "http"
}

func (c IntercomConfig) apiPort() int {
	if c.Port > 0 {
		return c.Port
	}
	if c.SSL {
		return 443
	}
	return 80
}

// BaseURL builds the device API base URL from host, scheme and port. A
// host that already carries an explicit port wins over the port field.
func (c IntercomConfig) BaseURL() string {
	host := c.hostname()
	if strings.Contains(host, ":") {
		return fmt.Sprintf("%s://%s", c.scheme(), host)
	}
	return fmt.Sprintf("%s://%s:%d", c.scheme(), host, c.apiPort())
}

func (c IntercomConfig) hostname() string {
	host := strings.TrimSpace(c.Host)
	host = strings.TrimPrefix(strings.TrimPrefix(host, "http://"), "https://")
	return strings.Trim(host, "/")
}

// rtspPort avoids reusing the HTTP/HTTPS port for the video stream.
func (c IntercomConfig) rtspPort() int {
	if p := c.apiPort(); p != 80 && p != 443 {
		return p
	}
	return 554
}

// RTSPURL returns the opaque stream URL with embedded credentials. The
// password is replaced with **** unless withCredentials is set.
func (c IntercomConfig) RTSPURL(withCredentials bool) string {
	password := "****"
	if withCredentials {
		password = c.Password
	}
	return fmt.Sprintf("rtsp://%s:%s@%s:%d/h264_stream", c.Username, password, c.hostname(), c.rtspPort())
}

// DefaultRelay picks the relay used by the door-open shortcut: the first
// configured door relay, or relay 1 when nothing is configured.
func (c IntercomConfig) DefaultRelay() RelayConfig {
	for _, relay := range c.Relays {
		if relay.DeviceType == DeviceTypeDoor {
			return relay
		}
	}
	if len(c.Relays) > 0 {
		return c.Relays[0]
	}
	return RelayConfig{Number: 1, Name: "Door", DeviceType: DeviceTypeDoor}
}

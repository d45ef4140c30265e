package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultHTTPAddr              = ":8099"
	defaultDBPath                = "/data/intercom_bridge.db"
	defaultFrontendDist          = "/app/frontend/dist"
	defaultConfigRefreshInterval = 20 * time.Second
	defaultJournalRetention      = 30 * 24 * time.Hour
)

// Config stores runtime settings loaded from environment variables.
type Config struct {
	HTTPAddr              string
	DBPath                string
	FrontendDist          string
	SupervisorURL         string
	SupervisorToken       string
	ConfigRefreshInterval time.Duration
	JournalRetention      time.Duration
	LogLevel              slog.Level

	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string
}

// Load builds Config from environment variables using stable defaults.
func Load() Config {
	return Config{
		HTTPAddr:              getenv("HTTP_ADDR", defaultHTTPAddr),
		DBPath:                getenv("DB_PATH", defaultDBPath),
		FrontendDist:          getenv("FRONTEND_DIST", defaultFrontendDist),
		SupervisorURL:         getenv("SUPERVISOR_URL", "http://supervisor/core"),
		SupervisorToken:       getenv("SUPERVISOR_TOKEN", ""),
		ConfigRefreshInterval: parseDuration("CONFIG_REFRESH_INTERVAL", defaultConfigRefreshInterval),
		JournalRetention:      parseDuration("JOURNAL_RETENTION", defaultJournalRetention),
		LogLevel:              parseLogLevel(getenv("LOG_LEVEL", "info")),

		MQTTBrokerURL:   getenv("MQTT_BROKER_URL", ""),
		MQTTClientID:    getenv("MQTT_CLIENT_ID", "intercom-bridge"),
		MQTTUsername:    getenv("MQTT_USERNAME", ""),
		MQTTPassword:    getenv("MQTT_PASSWORD", ""),
		MQTTTopicPrefix: getenv("MQTT_TOPIC_PREFIX", "intercom_bridge"),
	}
}

// MQTTEnabled reports whether an event broker was configured.
func (c Config) MQTTEnabled() bool {
	return c.MQTTBrokerURL != ""
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

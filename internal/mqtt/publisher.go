// Package mqtt publishes engine events to an optional MQTT broker so
// automations outside Home Assistant can react to rings and actuations.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/micro-ha/intercom-bridge/addon/internal/actuator"
	"github.com/micro-ha/intercom-bridge/addon/internal/engine"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

type Config struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Publisher forwards engine events to the broker. Availability is
// published retained so late subscribers see the current state.
type Publisher struct {
	client paho.Client
	prefix string
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.BrokerURL) == "" {
		return nil, fmt.Errorf("mqtt broker url is empty")
	}
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "intercom_bridge"
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "intercom-bridge"
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetWill(prefix+"/availability", "offline", 1, true)
	opts.OnConnect = func(paho.Client) {
		logger.Info("mqtt connected", "broker", cfg.BrokerURL)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", "err", err)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return &Publisher{client: client, prefix: prefix, logger: logger}, nil
}

// HandleEvent implements the engine subscriber callback.
func (p *Publisher) HandleEvent(event engine.Event) {
	topic, payload, retained := encodeEvent(p.prefix, event)
	if topic == "" {
		return
	}
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		p.logger.Warn("mqtt publish failed", "topic", topic, "err", token.Error())
	}
}

// HandleActuatorStates publishes the full actuator snapshot retained,
// so subscribers see auto-reverts without waiting for the next poll.
func (p *Publisher) HandleActuatorStates(states []actuator.State) {
	payload, err := encodeActuatorStates(states)
	if err != nil {
		p.logger.Warn("mqtt actuator encode failed", "err", err)
		return
	}
	topic := p.prefix + "/actuators"
	token := p.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		p.logger.Warn("mqtt publish failed", "topic", topic, "err", token.Error())
	}
}

func (p *Publisher) Close() {
	token := p.client.Publish(p.prefix+"/availability", 1, true, []byte("offline"))
	token.WaitTimeout(publishTimeout)
	p.client.Disconnect(250)
}

func encodeActuatorStates(states []actuator.State) ([]byte, error) {
	return json.Marshal(struct {
		Actuators []actuator.State `json:"actuators"`
	}{Actuators: states})
}

// encodeEvent maps one engine event onto its topic and JSON payload.
// Availability collapses to a retained online/offline token.
func encodeEvent(prefix string, event engine.Event) (topic string, payload []byte, retained bool) {
	switch event.Type {
	case engine.EventRing:
		body, err := json.Marshal(event)
		if err != nil {
			return "", nil, false
		}
		return prefix + "/ring", body, false
	case engine.EventAvailability:
		state := "offline"
		if event.Available {
			state = "online"
		}
		return prefix + "/availability", []byte(state), true
	case engine.EventActuation:
		body, err := json.Marshal(event)
		if err != nil {
			return "", nil, false
		}
		return prefix + "/actuation", body, false
	default:
		return "", nil, false
	}
}

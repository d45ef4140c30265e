package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/micro-ha/intercom-bridge/addon/internal/actuator"
	"github.com/micro-ha/intercom-bridge/addon/internal/engine"
	"github.com/micro-ha/intercom-bridge/addon/internal/model"
)

func TestEncodeRingEvent(t *testing.T) {
	at := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	topic, payload, retained := encodeEvent("intercom_bridge", engine.Event{
		Type:   engine.EventRing,
		At:     at,
		Caller: &model.CallerInfo{Name: "Front Door", Button: "1"},
	})
	if topic != "intercom_bridge/ring" {
		t.Fatalf("topic = %q", topic)
	}
	if retained {
		t.Fatal("ring events must not be retained")
	}
	var decoded engine.Event
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Caller == nil || decoded.Caller.Name != "Front Door" {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestEncodeAvailability(t *testing.T) {
	topic, payload, retained := encodeEvent("intercom_bridge", engine.Event{
		Type: engine.EventAvailability, Available: true,
	})
	if topic != "intercom_bridge/availability" || string(payload) != "online" || !retained {
		t.Fatalf("unexpected encoding %q %q %v", topic, payload, retained)
	}

	_, payload, _ = encodeEvent("intercom_bridge", engine.Event{Type: engine.EventAvailability})
	if string(payload) != "offline" {
		t.Fatalf("unexpected payload %q", payload)
	}
}

func TestEncodeActuation(t *testing.T) {
	topic, payload, retained := encodeEvent("custom", engine.Event{
		Type: engine.EventActuation, Relay: 2, Action: "trigger", DurationMs: 15000, Success: true,
	})
	if topic != "custom/actuation" || retained {
		t.Fatalf("unexpected encoding %q %v", topic, retained)
	}
	var decoded engine.Event
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Relay != 2 || !decoded.Success {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestEncodeActuatorStates(t *testing.T) {
	on := false
	payload, err := encodeActuatorStates([]actuator.State{
		{Relay: 1, Name: "Front Door", DeviceType: model.DeviceTypeDoor, On: &on},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded struct {
		Actuators []actuator.State `json:"actuators"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Actuators) != 1 || decoded.Actuators[0].Relay != 1 {
		t.Fatalf("unexpected payload %s", payload)
	}
	if decoded.Actuators[0].On == nil || *decoded.Actuators[0].On {
		t.Fatalf("expected on=false in payload %s", payload)
	}
}

func TestEncodeUnknownEventDropped(t *testing.T) {
	topic, _, _ := encodeEvent("intercom_bridge", engine.Event{Type: "bogus"})
	if topic != "" {
		t.Fatalf("unexpected topic %q", topic)
	}
}

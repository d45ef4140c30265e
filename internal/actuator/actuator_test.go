package actuator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/micro-ha/intercom-bridge/addon/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doorCfg(pulseMs int) model.RelayConfig {
	return model.RelayConfig{Number: 1, Name: "Front Door", DeviceType: model.DeviceTypeDoor, PulseDurationMs: pulseMs}
}

func gateCfg(pulseMs int) model.RelayConfig {
	return model.RelayConfig{Number: 2, Name: "Driveway Gate", DeviceType: model.DeviceTypeGate, PulseDurationMs: pulseMs}
}

func alwaysOK(_ context.Context, _ int, _ int) bool { return true }

func TestRelayPulseAndAutoRevert(t *testing.T) {
	relay := NewRelay(doorCfg(60), alwaysOK, discardLogger(), nil)

	if !relay.TurnOn(context.Background()) {
		t.Fatal("expected trigger success")
	}
	if !relay.IsOn() {
		t.Fatal("expected on immediately after trigger")
	}

	time.Sleep(200 * time.Millisecond)
	if relay.IsOn() {
		t.Fatal("expected auto-revert after pulse duration")
	}
}

func TestRelayTriggerFailureLeavesStateUnchanged(t *testing.T) {
	var notifications int32
	relay := NewRelay(doorCfg(60), func(_ context.Context, _ int, _ int) bool { return false },
		discardLogger(), func() { atomic.AddInt32(&notifications, 1) })

	if relay.TurnOn(context.Background()) {
		t.Fatal("expected trigger failure")
	}
	if relay.IsOn() {
		t.Fatal("state must not change on device failure")
	}
	if atomic.LoadInt32(&notifications) != 0 {
		t.Fatal("no notification expected on failed trigger")
	}
}

func TestRelayRetriggerCancelsPendingRevert(t *testing.T) {
	var (
		mu   sync.Mutex
		offs int
	)
	relay := NewRelay(doorCfg(100), alwaysOK, discardLogger(), nil)
	relay.onChange = func() {
		if !relay.IsOn() {
			mu.Lock()
			offs++
			mu.Unlock()
		}
	}

	if !relay.TurnOn(context.Background()) {
		t.Fatal("first trigger failed")
	}
	time.Sleep(50 * time.Millisecond)
	if !relay.TurnOn(context.Background()) {
		t.Fatal("second trigger failed")
	}

	// The first revert would have fired around t=100ms; only the second
	// one (t=150ms) may actually run.
	time.Sleep(120 * time.Millisecond)
	if !relay.IsOn() {
		t.Fatal("first revert must have been cancelled")
	}
	time.Sleep(150 * time.Millisecond)
	if relay.IsOn() {
		t.Fatal("expected revert after the second pulse")
	}

	mu.Lock()
	defer mu.Unlock()
	if offs != 1 {
		t.Fatalf("expected exactly one revert, got %d", offs)
	}
}

func TestRelayTurnOffCancelsPendingRevert(t *testing.T) {
	relay := NewRelay(doorCfg(60), alwaysOK, discardLogger(), nil)

	relay.TurnOn(context.Background())
	relay.TurnOff(context.Background())
	if relay.IsOn() {
		t.Fatal("expected off after TurnOff")
	}

	time.Sleep(120 * time.Millisecond)
	if relay.IsOn() {
		t.Fatal("cancelled timer must not mutate state")
	}
}

func TestCoverOpenThenSettles(t *testing.T) {
	cover := NewCover(gateCfg(60), alwaysOK, discardLogger(), nil)

	if opening, closing, closed := cover.State(); opening || closing || !closed {
		t.Fatalf("unexpected initial state %v %v %v", opening, closing, closed)
	}

	if !cover.Open(context.Background()) {
		t.Fatal("open failed")
	}
	if opening, _, closed := cover.State(); !opening || closed {
		t.Fatal("expected opening and not closed")
	}

	time.Sleep(200 * time.Millisecond)
	if opening, closing, closed := cover.State(); opening || closing || closed {
		t.Fatal("expected settled open")
	}
}

func TestCoverCloseAfterOpenCancelsPending(t *testing.T) {
	cover := NewCover(gateCfg(100), alwaysOK, discardLogger(), nil)

	cover.Open(context.Background())
	time.Sleep(30 * time.Millisecond)
	cover.Close(context.Background())

	if opening, closing, _ := cover.State(); opening || !closing {
		t.Fatal("latest trigger must win")
	}

	time.Sleep(250 * time.Millisecond)
	if opening, closing, closed := cover.State(); opening || closing || !closed {
		t.Fatal("expected settled closed from the second trigger")
	}
}

func TestCoverTriggerFailure(t *testing.T) {
	cover := NewCover(gateCfg(60), func(_ context.Context, _ int, _ int) bool { return false }, discardLogger(), nil)

	if cover.Open(context.Background()) {
		t.Fatal("expected failure")
	}
	if opening, closing, closed := cover.State(); opening || closing || !closed {
		t.Fatal("state must stay untouched on failure")
	}
}

func TestLockUnlockRelocksAfterPulse(t *testing.T) {
	var calls []int
	lock := NewLock(doorCfg(60), func(_ context.Context, relay int, durationMs int) bool {
		calls = append(calls, durationMs)
		_ = relay
		return true
	}, discardLogger(), nil)

	if !lock.Unlock(context.Background()) {
		t.Fatal("unlock failed")
	}
	if lock.IsLocked() {
		t.Fatal("expected unlocked during pulse")
	}
	if len(calls) != 1 || calls[0] != 60 {
		t.Fatalf("unexpected device calls %v", calls)
	}

	time.Sleep(200 * time.Millisecond)
	if !lock.IsLocked() {
		t.Fatal("expected auto-relock after pulse")
	}
}

func TestLockExplicitLockIsLocalOnly(t *testing.T) {
	var deviceCalls int32
	lock := NewLock(doorCfg(60), func(_ context.Context, _ int, _ int) bool {
		atomic.AddInt32(&deviceCalls, 1)
		return true
	}, discardLogger(), nil)

	lock.Unlock(context.Background())
	lock.Lock(context.Background())
	if !lock.IsLocked() {
		t.Fatal("expected locked")
	}
	if atomic.LoadInt32(&deviceCalls) != 1 {
		t.Fatalf("Lock must not call the device, got %d calls", deviceCalls)
	}

	// The unlock revert timer was cancelled; nothing may unlock later.
	time.Sleep(120 * time.Millisecond)
	if !lock.IsLocked() {
		t.Fatal("expected stable locked state")
	}
}

func TestLockOpenAliasesUnlock(t *testing.T) {
	var actions int32
	lock := NewLock(doorCfg(40), func(_ context.Context, _ int, _ int) bool {
		atomic.AddInt32(&actions, 1)
		return true
	}, discardLogger(), nil)

	if !lock.Open(context.Background()) {
		t.Fatal("open failed")
	}
	if lock.IsLocked() {
		t.Fatal("open must unlock")
	}
	if atomic.LoadInt32(&actions) != 1 {
		t.Fatalf("expected one pulse, got %d", actions)
	}
}

func TestManagerApplyBuildsAndPrunes(t *testing.T) {
	manager := NewManager(alwaysOK, discardLogger(), nil)

	manager.Apply(model.IntercomConfig{Relays: []model.RelayConfig{
		{Number: 1, Name: "Front Door", DeviceType: model.DeviceTypeDoor},
		{Number: 2, Name: "Driveway Gate", DeviceType: model.DeviceTypeGate},
	}})

	if _, ok := manager.Relay(1); !ok {
		t.Fatal("expected door relay 1")
	}
	if _, ok := manager.Lock(); !ok {
		t.Fatal("expected lock for default door relay")
	}

	manager.Apply(model.IntercomConfig{Relays: []model.RelayConfig{
		{Number: 2, Name: "Driveway Gate", DeviceType: model.DeviceTypeGate},
	}})

	if _, ok := manager.Relay(1); ok {
		t.Fatal("relay 1 should be pruned")
	}
	if _, ok := manager.Cover(2); !ok {
		t.Fatal("expected gate cover 2")
	}
}

func TestManagerKeepsStateAcrossApply(t *testing.T) {
	manager := NewManager(alwaysOK, discardLogger(), nil)
	cfg := model.IntercomConfig{Relays: []model.RelayConfig{doorCfg(200)}}
	manager.Apply(cfg)

	relay, _ := manager.Relay(1)
	relay.TurnOn(context.Background())

	manager.Apply(cfg)
	relay2, _ := manager.Relay(1)
	if relay2 != relay {
		t.Fatal("unchanged config must keep the same actuator instance")
	}
	if !relay2.IsOn() {
		t.Fatal("state must survive Apply")
	}
}

func TestManagerStatesSnapshot(t *testing.T) {
	manager := NewManager(alwaysOK, discardLogger(), nil)
	manager.Apply(model.IntercomConfig{Relays: []model.RelayConfig{
		{Number: 1, Name: "Front Door", DeviceType: model.DeviceTypeDoor},
		{Number: 2, Name: "Driveway Gate", DeviceType: model.DeviceTypeGate},
	}})

	states := manager.States()
	if len(states) != 3 {
		t.Fatalf("expected switch + cover + lock, got %d", len(states))
	}
	if states[0].Relay != 1 || states[0].On == nil {
		t.Fatalf("unexpected first state %+v", states[0])
	}
	if states[2].IsClosed == nil && states[2].IsLocked == nil {
		t.Fatalf("unexpected last state %+v", states[2])
	}
}

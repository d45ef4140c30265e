package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/micro-ha/intercom-bridge/addon/internal/intercom"
	"github.com/micro-ha/intercom-bridge/addon/internal/intercom/mock"
	"github.com/micro-ha/intercom-bridge/addon/internal/model"
)

type staticConfig struct {
	mu  sync.Mutex
	cfg model.IntercomConfig
	ok  bool
}

func (s *staticConfig) Get() (model.IntercomConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.ok
}

func (s *staticConfig) set(cfg model.IntercomConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func newTestEngine(client *mock.Client) (*Engine, *staticConfig) {
	cfg := &staticConfig{cfg: model.IntercomConfig{Host: "10.0.0.2", Username: "admin", Password: "pw", Version: 1}, ok: true}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(client, cfg, logger), cfg
}

func TestRefreshNotConfigured(t *testing.T) {
	e, cfg := newTestEngine(&mock.Client{})
	cfg.ok = false

	_, err := e.Refresh(context.Background())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestRefreshPublishesDerivedState(t *testing.T) {
	client := &mock.Client{
		CallStatusFunc: func(_ context.Context, _ model.IntercomConfig) (model.CallStatus, error) {
			return model.CallStatus{State: "ringing", Caller: &model.CallerInfo{Name: "Alice", Number: "123"}}, nil
		},
	}
	e, _ := newTestEngine(client)

	data, err := e.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if !data.RingActive || !data.Available {
		t.Fatalf("unexpected derived state %+v", data)
	}
	if data.CallerInfo == nil || data.CallerInfo.Name != "Alice" {
		t.Fatalf("unexpected caller %+v", data.CallerInfo)
	}
	if !e.LastUpdateSuccess() {
		t.Fatal("expected last update success")
	}
	if got, ok := e.Data(); !ok || got.CallStatus.State != "ringing" {
		t.Fatalf("Data() = %+v, %v", got, ok)
	}
}

func TestRingStaysActiveAfterCallEnds(t *testing.T) {
	var (
		mu    sync.Mutex
		state = "idle"
	)
	client := &mock.Client{
		CallStatusFunc: func(_ context.Context, _ model.IntercomConfig) (model.CallStatus, error) {
			mu.Lock()
			defer mu.Unlock()
			st := model.CallStatus{State: state}
			if state == "ringing" {
				st.Caller = &model.CallerInfo{Name: "Alice", Number: "123"}
			}
			return st, nil
		},
	}
	e, _ := newTestEngine(client)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	var rings int
	e.Subscribe(func(event Event) {
		if event.Type == EventRing {
			rings++
			if event.Caller == nil || event.Caller.Name != "Alice" {
				t.Errorf("ring event missing caller: %+v", event.Caller)
			}
		}
	})

	step := func(s string) model.DerivedState {
		mu.Lock()
		state = s
		mu.Unlock()
		data, err := e.Refresh(context.Background())
		if err != nil {
			t.Fatalf("refresh %q: %v", s, err)
		}
		now = now.Add(5 * time.Second)
		return data
	}

	if data := step("idle"); data.RingActive {
		t.Fatal("idle must not ring")
	}
	if data := step("ringing"); !data.RingActive {
		t.Fatal("expected ring on rising edge")
	}
	if data := step("idle"); !data.RingActive {
		t.Fatal("ring must stay active until timeout")
	}
	if rings != 1 {
		t.Fatalf("expected exactly 1 ring event, got %d", rings)
	}

	now = now.Add(time.Minute)
	if data := step("idle"); data.RingActive {
		t.Fatal("ring must deactivate after timeout")
	}
	if !e.LastUpdateSuccess() {
		t.Fatal("expected success")
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	release := make(chan struct{})
	client := &mock.Client{
		CallStatusFunc: func(_ context.Context, _ model.IntercomConfig) (model.CallStatus, error) {
			<-release
			return model.CallStatus{State: "idle"}, nil
		},
	}
	e, _ := newTestEngine(client)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Refresh(context.Background())
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if got := client.CountMethod("CallStatus"); got != 1 {
		t.Fatalf("expected exactly 1 device call, got %d", got)
	}
}

func TestConnectionFailuresEscalateAfterBound(t *testing.T) {
	client := &mock.Client{
		CallStatusFunc: func(_ context.Context, _ model.IntercomConfig) (model.CallStatus, error) {
			return model.CallStatus{}, &intercom.ConnectionError{Endpoint: "/api/call/status", Err: errors.New("refused")}
		},
	}
	e, _ := newTestEngine(client)

	wantBackoffs := []time.Duration{2, 4, 8, 16, 32}
	for i, want := range wantBackoffs {
		_, err := e.Refresh(context.Background())
		var updateErr *UpdateFailedError
		if !errors.As(err, &updateErr) {
			t.Fatalf("cycle %d: expected UpdateFailedError, got %v", i+1, err)
		}
		if updateErr.Attempt != i+1 {
			t.Fatalf("cycle %d: attempt = %d", i+1, updateErr.Attempt)
		}
		if updateErr.RetryIn != want*time.Second {
			t.Fatalf("cycle %d: backoff = %s, want %ds", i+1, updateErr.RetryIn, want)
		}
	}

	_, err := e.Refresh(context.Background())
	var exhausted *ExhaustedRetriesError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedRetriesError, got %v", err)
	}
	if exhausted.Attempts != maxRetries {
		t.Fatalf("attempts = %d", exhausted.Attempts)
	}
	if e.LastUpdateSuccess() {
		t.Fatal("expected last update failure")
	}
}

func TestSuccessResetsRetryCounter(t *testing.T) {
	var (
		mu   sync.Mutex
		fail = true
	)
	client := &mock.Client{
		CallStatusFunc: func(_ context.Context, _ model.IntercomConfig) (model.CallStatus, error) {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				return model.CallStatus{}, &intercom.TimeoutError{Endpoint: "/api/call/status", Err: errors.New("deadline")}
			}
			return model.CallStatus{State: "idle"}, nil
		},
	}
	e, _ := newTestEngine(client)

	for i := 0; i < 3; i++ {
		_, _ = e.Refresh(context.Background())
	}
	mu.Lock()
	fail = false
	mu.Unlock()
	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	mu.Lock()
	fail = true
	mu.Unlock()

	_, err := e.Refresh(context.Background())
	var updateErr *UpdateFailedError
	if !errors.As(err, &updateErr) {
		t.Fatalf("expected UpdateFailedError, got %v", err)
	}
	if updateErr.Attempt != 1 {
		t.Fatalf("counter must reset on success, attempt = %d", updateErr.Attempt)
	}
}

func TestAPIErrorDoesNotAdvanceConnectionCounter(t *testing.T) {
	calls := 0
	client := &mock.Client{}
	client.CallStatusFunc = func(_ context.Context, _ model.IntercomConfig) (model.CallStatus, error) {
		calls++
		if calls == 1 {
			return model.CallStatus{}, &intercom.APIError{Endpoint: "/api/call/status", Description: "bad payload"}
		}
		return model.CallStatus{}, &intercom.ConnectionError{Endpoint: "/api/call/status", Err: errors.New("refused")}
	}
	e, _ := newTestEngine(client)

	_, err := e.Refresh(context.Background())
	var updateErr *UpdateFailedError
	if !errors.As(err, &updateErr) || updateErr.Attempt != 0 {
		t.Fatalf("api error must not count as connection attempt: %v", err)
	}

	_, err = e.Refresh(context.Background())
	if !errors.As(err, &updateErr) || updateErr.Attempt != 1 {
		t.Fatalf("first connection failure should be attempt 1: %v", err)
	}
}

func TestAuthFailureSuspendsPollingUntilConfigChange(t *testing.T) {
	client := &mock.Client{
		CallStatusFunc: func(_ context.Context, _ model.IntercomConfig) (model.CallStatus, error) {
			return model.CallStatus{}, &intercom.AuthenticationError{Endpoint: "/api/call/status"}
		},
	}
	e, cfg := newTestEngine(client)

	_, err := e.Refresh(context.Background())
	if !errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}

	_, err = e.Refresh(context.Background())
	if !errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}
	if got := client.CountMethod("CallStatus"); got != 1 {
		t.Fatalf("device must not be retried while auth is blocked, got %d calls", got)
	}

	next := model.IntercomConfig{Host: "10.0.0.2", Username: "admin", Password: "new", Version: 2}
	cfg.set(next)
	_, _ = e.Refresh(context.Background())
	if got := client.CountMethod("CallStatus"); got != 2 {
		t.Fatalf("expected retry after config change, got %d calls", got)
	}
}

func TestTriggerRelayPassesThroughFailure(t *testing.T) {
	client := &mock.Client{
		SwitchControlFunc: func(_ context.Context, _ model.IntercomConfig, _ int, _ string, _ int) (bool, error) {
			return false, nil
		},
	}
	e, _ := newTestEngine(client)

	var events []Event
	e.Subscribe(func(event Event) { events = append(events, event) })

	if e.TriggerRelay(context.Background(), 1, 2000) {
		t.Fatal("expected false on device-rejected trigger")
	}
	if len(events) != 1 || events[0].Type != EventActuation || events[0].Success {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestOpenDoorUsesDefaultRelay(t *testing.T) {
	client := &mock.Client{}
	e, cfg := newTestEngine(client)
	cfg.set(model.IntercomConfig{
		Host: "10.0.0.2", Version: 1,
		Relays: []model.RelayConfig{
			{Number: 2, Name: "Gate", DeviceType: model.DeviceTypeGate},
			{Number: 3, Name: "Front Door", DeviceType: model.DeviceTypeDoor, PulseDurationMs: 1500},
		},
	})

	if !e.OpenDoor(context.Background()) {
		t.Fatal("expected door open to succeed")
	}
	calls := client.CallsSnapshot()
	if len(calls) != 1 || calls[0].Relay != 3 || calls[0].Action != "trigger" || calls[0].DurationMs != 1500 {
		t.Fatalf("unexpected device call %+v", calls)
	}
}

func TestActuationFailureDoesNotAffectRetryState(t *testing.T) {
	client := &mock.Client{
		SwitchControlFunc: func(_ context.Context, _ model.IntercomConfig, _ int, _ string, _ int) (bool, error) {
			return false, &intercom.ConnectionError{Endpoint: "/api/switch/ctrl", Err: errors.New("refused")}
		},
	}
	e, _ := newTestEngine(client)

	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if e.TriggerRelay(context.Background(), 1, 2000) {
		t.Fatal("expected trigger failure")
	}
	if !e.LastUpdateSuccess() {
		t.Fatal("actuation failure must not mark the device unavailable")
	}
}

func TestSnapshotServedThroughCache(t *testing.T) {
	client := &mock.Client{}
	e, _ := newTestEngine(client)

	first := e.Snapshot(context.Background(), 0, 0)
	second := e.Snapshot(context.Background(), 0, 0)
	if string(first) != string(second) {
		t.Fatal("expected identical cached snapshot")
	}
	if got := client.CountMethod("Snapshot"); got != 1 {
		t.Fatalf("expected exactly 1 device snapshot request, got %d", got)
	}
}

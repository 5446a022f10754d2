package core

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedDispatcher replays outcomes in order and acknowledges once the
// script is exhausted.
type scriptedDispatcher struct {
	mu       sync.Mutex
	script   []DispatchResult
	sent     []ProtocolMessage
	fallback *DispatchResult
}

func (d *scriptedDispatcher) Send(_ context.Context, _ string, msg ProtocolMessage) DispatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	if len(d.script) > 0 {
		next := d.script[0]
		d.script = d.script[1:]
		return next
	}
	if d.fallback != nil {
		return *d.fallback
	}
	return DispatchResult{Outcome: DispatchAcknowledged, StatusCode: http.StatusOK}
}

func (d *scriptedDispatcher) Sent() []ProtocolMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ProtocolMessage(nil), d.sent...)
}

func retryable() DispatchResult {
	return DispatchResult{
		Outcome:    DispatchRetryableFailure,
		StatusCode: http.StatusServiceUnavailable,
		Err:        ErrRetryableFailure,
	}
}

// loopbackDispatcher delivers messages straight into the peer service using
// the sender's participant id as the caller subject.
type loopbackDispatcher struct {
	sender string
	peer   func() *Service
	calls  int
	mu     sync.Mutex
}

func (d *loopbackDispatcher) Send(ctx context.Context, _ string, msg ProtocolMessage) DispatchResult {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	outcome, err := d.peer().HandleProtocolMessage(ctx, msg, Claims{Subject: d.sender})
	if err != nil {
		return DispatchResult{Outcome: DispatchPermanentFailure, StatusCode: HTTPStatus(err), Err: err}
	}
	return DispatchResult{Outcome: DispatchAcknowledged, StatusCode: outcome.Status}
}

func (d *loopbackDispatcher) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type testParticipant struct {
	svc         *Service
	manager     *ProcessManager
	negotiation *MemoryStore[ContractNegotiation, *ContractNegotiation]
	transfer    *MemoryStore[TransferProcess, *TransferProcess]
}

func newTestParticipant(t *testing.T, id string, clock *fakeClock, dispatcher Dispatcher, mutate func(*Config)) testParticipant {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ParticipantID = id
	cfg.CallbackAddress = "https://" + id + ".example.com/protocol"
	cfg.Dispatch.InitialBackoff = time.Second
	cfg.Dispatch.MaxBackoff = 8 * time.Second
	cfg.Dispatch.MaxRetries = 4
	cfg.Dispatch.ClaimLease = 30 * time.Second
	cfg.InactivityTimeout = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}
	negotiations := NewMemoryNegotiationStore()
	transfers := NewMemoryTransferStore()
	svc, err := NewService(cfg,
		WithLogger(stubLogger{}),
		WithNegotiationStore(negotiations),
		WithTransferStore(transfers),
		WithDispatcher(dispatcher),
		WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("new service %s: %v", id, err)
	}
	manager, err := NewProcessManager(svc)
	if err != nil {
		t.Fatalf("new process manager %s: %v", id, err)
	}
	return testParticipant{svc: svc, manager: manager, negotiation: negotiations, transfer: transfers}
}

func assertTextCode(t *testing.T, err error, textCode string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", textCode)
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T: %v", err, err)
	}
	if richErr.TextCode != textCode {
		t.Fatalf("expected text code %s, got %s (%v)", textCode, richErr.TextCode, err)
	}
}

func assertIs(t *testing.T, err error, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

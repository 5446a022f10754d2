package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

type recordingEnqueuer struct {
	calls []string
}

func (e *recordingEnqueuer) EnqueueDispatch(_ context.Context, kind ProcessKind, id string) error {
	e.calls = append(e.calls, string(kind)+":"+id)
	return nil
}

func TestNewService_DefaultDependencies(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.Logger == nil {
		t.Fatalf("expected default logger")
	}
	if deps.LoggerProvider == nil {
		t.Fatalf("expected default logger provider")
	}
	if deps.ErrorFactory == nil || deps.ErrorMapper == nil {
		t.Fatalf("expected default error factory and mapper")
	}
	if deps.ConfigProvider == nil || deps.OptionsResolver == nil {
		t.Fatalf("expected default config provider and options resolver")
	}
	if deps.NegotiationStore == nil || deps.TransferStore == nil {
		t.Fatalf("expected in-memory stores by default")
	}
	if deps.BackoffScheduler == nil {
		t.Fatalf("expected default backoff scheduler")
	}
	if deps.Dispatcher != nil {
		t.Fatalf("expected no dispatcher unless configured")
	}

	cfg := svc.Config()
	if cfg.ParticipantID != "connector" {
		t.Fatalf("expected default participant id, got %q", cfg.ParticipantID)
	}
	if cfg.Protocol != DefaultProtocolVersion {
		t.Fatalf("expected default protocol, got %q", cfg.Protocol)
	}
	if cfg.Dispatch.MaxRetries != 8 || cfg.Dispatch.InitialBackoff != 2*time.Second {
		t.Fatalf("unexpected dispatch defaults %#v", cfg.Dispatch)
	}
}

func TestNewService_WithXOverrides(t *testing.T) {
	customLogger := stubLogger{}
	customProvider := stubLoggerProvider{logger: customLogger}
	customFactory := func(message string, category ...goerrors.Category) *goerrors.Error {
		return goerrors.New("custom:"+message, category...)
	}
	sentinel := errors.New("sentinel")
	customMapper := func(error) *goerrors.Error {
		return goerrors.Wrap(sentinel, goerrors.CategoryOperation, "mapped")
	}
	configProvider := &fixedConfigProvider{cfg: Config{ParticipantID: "from-provider"}}
	resolved := DefaultConfig()
	resolved.ParticipantID = "resolved"
	optionsResolver := &fixedOptionsResolver{cfg: resolved}
	negotiations := NewMemoryNegotiationStore()
	transfers := NewMemoryTransferStore()
	dispatcher := &scriptedDispatcher{}
	enqueuer := &recordingEnqueuer{}
	backoff := ExponentialBackoff{Initial: time.Millisecond, Max: time.Second}

	svc, err := NewService(Config{ParticipantID: "runtime"},
		WithLogger(customLogger),
		WithLoggerProvider(customProvider),
		WithErrorFactory(customFactory),
		WithErrorMapper(customMapper),
		WithConfigProvider(configProvider),
		WithOptionsResolver(optionsResolver),
		WithNegotiationStore(negotiations),
		WithTransferStore(transfers),
		WithDispatcher(dispatcher),
		WithDispatchEnqueuer(enqueuer),
		WithBackoffScheduler(backoff),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	deps := svc.Dependencies()
	if deps.Logger != customLogger {
		t.Fatalf("expected custom logger override")
	}
	if resolvedLogger := deps.LoggerProvider.GetLogger("connector.override"); resolvedLogger != customLogger {
		t.Fatalf("expected logger provider to resolve custom logger")
	}
	if deps.ConfigProvider != configProvider || deps.OptionsResolver != optionsResolver {
		t.Fatalf("expected config provider and options resolver overrides")
	}
	if deps.NegotiationStore != negotiations || deps.TransferStore != transfers {
		t.Fatalf("expected store overrides")
	}
	if deps.Dispatcher != dispatcher || deps.DispatchEnqueuer != enqueuer {
		t.Fatalf("expected dispatcher overrides")
	}
	if deps.BackoffScheduler != backoff {
		t.Fatalf("expected backoff override")
	}
	if got := svc.Config().ParticipantID; got != "resolved" {
		t.Fatalf("expected options resolver output config, got %q", got)
	}

	_, err = svc.GetNegotiation(context.Background(), "missing")
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Message != "mapped" {
		t.Fatalf("expected custom error mapper to be used, got %v", err)
	}
}

func TestNewService_ConfigLayeringPrecedence(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"participant_id":      "from-config",
		"callback_address":    "https://config.example.com/protocol",
		"supported_protocols": []string{DefaultProtocolVersion, "dataspace-protocol-http:2025/1"},
		"dispatch": map[string]any{
			"max_retries": 3,
		},
	}})

	svc, err := NewService(Config{ParticipantID: "from-runtime"}, WithConfigProvider(provider))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cfg := svc.Config()
	if cfg.ParticipantID != "from-runtime" {
		t.Fatalf("expected runtime value to override config/default, got %q", cfg.ParticipantID)
	}
	if cfg.CallbackAddress != "https://config.example.com/protocol" {
		t.Fatalf("expected config layer callback address, got %q", cfg.CallbackAddress)
	}
	if cfg.Dispatch.MaxRetries != 3 {
		t.Fatalf("expected config layer max retries, got %d", cfg.Dispatch.MaxRetries)
	}
	if cfg.Dispatch.BatchSize != 50 {
		t.Fatalf("expected default batch size to survive layering, got %d", cfg.Dispatch.BatchSize)
	}
	if len(cfg.Protocols()) != 2 {
		t.Fatalf("expected two accepted protocol versions, got %#v", cfg.Protocols())
	}
}

func TestNewService_RejectsInvalidConfig(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"persistence": map[string]any{"driver": "oracle"},
	}})
	if _, err := NewService(Config{}, WithConfigProvider(provider)); err == nil {
		t.Fatalf("expected unsupported driver to be rejected")
	}
}

func TestTOMLConfigLoader_LoadsDurations(t *testing.T) {
	loader := TOMLConfigLoader{Data: `
participant_id = "toml-participant"
callback_address = "https://toml.example.com/protocol"
inactivity_timeout = "2h"

[dispatch]
tick_interval = "250ms"
initial_backoff = 3
max_backoff = "1m"
max_retries = 5
`}
	svc, err := NewService(Config{}, WithConfigProvider(NewCfgxConfigProvider(loader)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cfg := svc.Config()
	if cfg.ParticipantID != "toml-participant" {
		t.Fatalf("expected toml participant id, got %q", cfg.ParticipantID)
	}
	if cfg.InactivityTimeout != 2*time.Hour {
		t.Fatalf("expected 2h inactivity timeout, got %s", cfg.InactivityTimeout)
	}
	if cfg.Dispatch.TickInterval != 250*time.Millisecond {
		t.Fatalf("expected 250ms tick, got %s", cfg.Dispatch.TickInterval)
	}
	if cfg.Dispatch.InitialBackoff != 3*time.Second {
		t.Fatalf("expected integer seconds to become a duration, got %s", cfg.Dispatch.InitialBackoff)
	}
	if cfg.Dispatch.MaxRetries != 5 {
		t.Fatalf("expected max retries 5, got %d", cfg.Dispatch.MaxRetries)
	}
}

func TestTOMLConfigLoader_ReadsFileAndReportsBadDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connector.toml")
	if err := os.WriteFile(path, []byte("participant_id = \"from-file\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	raw, err := TOMLConfigLoader{Path: path}.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if raw["participant_id"] != "from-file" {
		t.Fatalf("expected participant id from file, got %#v", raw["participant_id"])
	}

	_, err = TOMLConfigLoader{Data: "[dispatch]\ntimeout = \"soon\"\n"}.LoadRaw(context.Background())
	if err == nil {
		t.Fatalf("expected invalid duration to fail")
	}
}

func TestService_LocalTransitionsEnqueueDispatch(t *testing.T) {
	ctx := context.Background()
	enqueuer := &recordingEnqueuer{}
	consumer := newTestParticipant(t, "consumer", newFakeClock(), &scriptedDispatcher{}, nil)
	consumer.svc.SetDispatchEnqueuer(enqueuer)

	record := requestFromConsumer(t, consumer, "corr-enqueue")
	if _, err := consumer.svc.TerminateNegotiation(ctx, record.ID, "cancelled"); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	// repeated termination is a no-op and queues nothing
	if _, err := consumer.svc.TerminateNegotiation(ctx, record.ID, "cancelled"); err != nil {
		t.Fatalf("terminate again: %v", err)
	}
	if len(enqueuer.calls) != 2 {
		t.Fatalf("expected request and termination enqueued, got %#v", enqueuer.calls)
	}
	if enqueuer.calls[0] != "negotiation:"+record.ID {
		t.Fatalf("unexpected enqueue %q", enqueuer.calls[0])
	}
}

func TestService_RequestValidatesCounterparty(t *testing.T) {
	consumer := newTestParticipant(t, "consumer", newFakeClock(), &scriptedDispatcher{}, nil)
	_, err := consumer.svc.RequestNegotiation(context.Background(), RequestNegotiationInput{
		CounterpartyID:      "provider",
		CounterpartyAddress: "not-a-url",
	})
	assertTextCode(t, err, ErrorMalformedMessage)

	_, err = consumer.svc.RequestTransfer(context.Background(), RequestTransferInput{
		CounterpartyID:      "provider",
		CounterpartyAddress: providerAddress,
	})
	assertTextCode(t, err, ErrorMalformedMessage)
}

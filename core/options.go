package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig    Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	errorFactory     ErrorFactory
	errorMapper      ErrorMapper
	configProvider   ConfigProvider
	optionsResolver  OptionsResolver
	negotiationStore NegotiationStore
	transferStore    TransferStore
	dispatcher       Dispatcher
	enqueuer         DispatchEnqueuer
	backoff          BackoffScheduler
	clock            func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithNegotiationStore(store NegotiationStore) Option {
	return func(b *serviceBuilder) {
		b.negotiationStore = store
	}
}

func WithTransferStore(store TransferStore) Option {
	return func(b *serviceBuilder) {
		b.transferStore = store
	}
}

func WithDispatcher(dispatcher Dispatcher) Option {
	return func(b *serviceBuilder) {
		b.dispatcher = dispatcher
	}
}

// WithDispatchEnqueuer triggers an immediate delivery attempt after every
// local transition that queues an outbound message.
func WithDispatchEnqueuer(enqueuer DispatchEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.enqueuer = enqueuer
	}
}

func WithBackoffScheduler(scheduler BackoffScheduler) Option {
	return func(b *serviceBuilder) {
		b.backoff = scheduler
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("connector", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     MapError,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver merges defaults, loaded config and runtime overrides in
// that order of precedence.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString(layer, "participant_id", cfg.ParticipantID, includeZero)
	setString(layer, "callback_address", cfg.CallbackAddress, includeZero)
	setString(layer, "protocol", cfg.Protocol, includeZero)
	if includeZero || len(cfg.SupportedProtocols) > 0 {
		layer["supported_protocols"] = append([]string(nil), cfg.SupportedProtocols...)
	}
	setDuration(layer, "inactivity_timeout", cfg.InactivityTimeout, includeZero)
	setInt(layer, "max_transition_attempts", cfg.MaxTransitionAttempts, includeZero)

	dispatch := map[string]any{}
	setDuration(dispatch, "tick_interval", cfg.Dispatch.TickInterval, includeZero)
	setInt(dispatch, "batch_size", cfg.Dispatch.BatchSize, includeZero)
	setDuration(dispatch, "claim_lease", cfg.Dispatch.ClaimLease, includeZero)
	setDuration(dispatch, "initial_backoff", cfg.Dispatch.InitialBackoff, includeZero)
	setDuration(dispatch, "max_backoff", cfg.Dispatch.MaxBackoff, includeZero)
	setInt(dispatch, "max_retries", cfg.Dispatch.MaxRetries, includeZero)
	setDuration(dispatch, "timeout", cfg.Dispatch.Timeout, includeZero)
	if len(dispatch) > 0 {
		layer["dispatch"] = dispatch
	}

	persistence := map[string]any{}
	setString(persistence, "driver", cfg.Persistence.Driver, includeZero)
	setString(persistence, "dsn", cfg.Persistence.DSN, includeZero)
	if includeZero || cfg.Persistence.Debug {
		persistence["debug"] = cfg.Persistence.Debug
	}
	setDuration(persistence, "ping_timeout", cfg.Persistence.PingTimeout, includeZero)
	if len(persistence) > 0 {
		layer["persistence"] = persistence
	}
	return layer
}

func setString(layer map[string]any, key string, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		layer[key] = strings.TrimSpace(value)
	}
}

func setInt(layer map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}

func setDuration(layer map[string]any, key string, value time.Duration, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}

package core

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service owns the process stores and applies every local command and
// inbound protocol message through the transition runner.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	negotiations    NegotiationStore
	transfers       TransferStore
	dispatcher      Dispatcher
	enqueuer        DispatchEnqueuer
	backoff         BackoffScheduler
	now             func() time.Time
	telemetry       telemetry
}

type ServiceDependencies struct {
	Logger           Logger
	LoggerProvider   LoggerProvider
	MetricsRecorder  MetricsRecorder
	ErrorFactory     ErrorFactory
	ErrorMapper      ErrorMapper
	ConfigProvider   ConfigProvider
	OptionsResolver  OptionsResolver
	NegotiationStore NegotiationStore
	TransferStore    TransferStore
	Dispatcher       Dispatcher
	DispatchEnqueuer DispatchEnqueuer
	BackoffScheduler BackoffScheduler
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("connector", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("connector"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = MapError
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.negotiationStore == nil {
		builder.negotiationStore = NewMemoryNegotiationStore()
	}
	if builder.transferStore == nil {
		builder.transferStore = NewMemoryTransferStore()
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.backoff == nil {
		builder.backoff = ExponentialBackoff{
			Initial: finalConfig.Dispatch.InitialBackoff,
			Max:     finalConfig.Dispatch.MaxBackoff,
		}
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorFactory:    builder.errorFactory,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		negotiations:    builder.negotiationStore,
		transfers:       builder.transferStore,
		dispatcher:      builder.dispatcher,
		enqueuer:        builder.enqueuer,
		backoff:         builder.backoff,
		now:             builder.clock,
		telemetry: telemetry{
			logger:    logger,
			metrics:   builder.metricsRecorder,
			namespace: "connector",
		},
	}, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:           s.logger,
		LoggerProvider:   s.loggerProvider,
		MetricsRecorder:  s.metricsRecorder,
		ErrorFactory:     s.errorFactory,
		ErrorMapper:      s.errorMapper,
		ConfigProvider:   s.configProvider,
		OptionsResolver:  s.optionsResolver,
		NegotiationStore: s.negotiations,
		TransferStore:    s.transfers,
		Dispatcher:       s.dispatcher,
		DispatchEnqueuer: s.enqueuer,
		BackoffScheduler: s.backoff,
	}
}

// SetDispatchEnqueuer installs the enqueuer after construction, for runtimes
// whose job worker needs the service before it can be built.
func (s *Service) SetDispatchEnqueuer(enqueuer DispatchEnqueuer) {
	if s == nil {
		return
	}
	s.enqueuer = enqueuer
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) enqueueDispatch(ctx context.Context, kind ProcessKind, id string) {
	if s == nil || s.enqueuer == nil {
		return
	}
	if err := s.enqueuer.EnqueueDispatch(ctx, kind, id); err != nil {
		s.telemetry.log(ctx, "warn", "dispatch enqueue failed", map[string]any{
			"process_kind": string(kind),
			"process_id":   id,
			"error":        err.Error(),
		})
	}
}

func (s *Service) ready() error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	if s.negotiations == nil || s.transfers == nil {
		return fmt.Errorf("core: process stores are not configured")
	}
	return nil
}

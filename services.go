package connector

import "github.com/thomasrutger/Connector/core"

type Config = core.Config

type DispatchConfig = core.DispatchConfig

type PersistenceConfig = core.PersistenceConfig

type Option = core.Option

type Service = core.Service

type ProcessManager = core.ProcessManager

type ServiceDependencies = core.ServiceDependencies
type NegotiationStore = core.NegotiationStore
type TransferStore = core.TransferStore
type Dispatcher = core.Dispatcher
type DispatchEnqueuer = core.DispatchEnqueuer
type CredentialVerifier = core.CredentialVerifier
type TokenSource = core.TokenSource
type BackoffScheduler = core.BackoffScheduler

type ContractNegotiation = core.ContractNegotiation
type TransferProcess = core.TransferProcess
type ProtocolMessage = core.ProtocolMessage
type Claims = core.Claims
type Acknowledgement = core.Acknowledgement

type RequestNegotiationInput = core.RequestNegotiationInput

type RequestTransferInput = core.RequestTransferInput

var (
	WithLogger           = core.WithLogger
	WithLoggerProvider   = core.WithLoggerProvider
	WithMetricsRecorder  = core.WithMetricsRecorder
	WithErrorFactory     = core.WithErrorFactory
	WithErrorMapper      = core.WithErrorMapper
	WithConfigProvider   = core.WithConfigProvider
	WithOptionsResolver  = core.WithOptionsResolver
	WithNegotiationStore = core.WithNegotiationStore
	WithTransferStore    = core.WithTransferStore
	WithDispatcher       = core.WithDispatcher
	WithDispatchEnqueuer = core.WithDispatchEnqueuer
	WithBackoffScheduler = core.WithBackoffScheduler
	WithClock            = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func NewProcessManager(svc *Service) (*ProcessManager, error) {
	return core.NewProcessManager(svc)
}

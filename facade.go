package connector

import (
	"fmt"

	"github.com/thomasrutger/Connector/command"
	"github.com/thomasrutger/Connector/core"
	"github.com/thomasrutger/Connector/inbound"
	"github.com/thomasrutger/Connector/query"
)

type CommandQueryService interface {
	command.NegotiationService
	command.TransferService
	command.MessageHandler
	query.NegotiationReader
	query.TransferReader
	query.ProcessDescriber
	Config() core.Config
}

type Commands struct {
	RequestNegotiation   *command.RequestNegotiationCommand
	OfferNegotiation     *command.OfferNegotiationCommand
	AgreeNegotiation     *command.AgreeNegotiationCommand
	NegotiationStep      *command.NegotiationStepCommand
	TerminateNegotiation *command.TerminateNegotiationCommand
	RequestTransfer      *command.RequestTransferCommand
	StartTransfer        *command.StartTransferCommand
	TransferStep         *command.TransferStepCommand
	HandleMessage        *command.HandleMessageCommand
	// DispatchProcess is nil unless the facade was built with a dispatcher.
	DispatchProcess *command.DispatchProcessCommand
}

type Queries struct {
	GetNegotiation  *query.GetNegotiationQuery
	GetTransfer     *query.GetTransferQuery
	DescribeProcess *query.DescribeProcessQuery
}

type Facade struct {
	service    CommandQueryService
	dispatcher command.ProcessDispatcher
	commands   Commands
	queries    Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	dispatcher command.ProcessDispatcher
}

// WithProcessDispatcher enables the dispatch command, usually backed by a
// core.ProcessManager.
func WithProcessDispatcher(dispatcher command.ProcessDispatcher) FacadeOption {
	return func(options *facadeOptions) {
		options.dispatcher = dispatcher
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("connector: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	facade := &Facade{service: service, dispatcher: cfg.dispatcher}
	facade.commands = Commands{
		RequestNegotiation:   command.NewRequestNegotiationCommand(service),
		OfferNegotiation:     command.NewOfferNegotiationCommand(service),
		AgreeNegotiation:     command.NewAgreeNegotiationCommand(service),
		NegotiationStep:      command.NewNegotiationStepCommand(service),
		TerminateNegotiation: command.NewTerminateNegotiationCommand(service),
		RequestTransfer:      command.NewRequestTransferCommand(service),
		StartTransfer:        command.NewStartTransferCommand(service),
		TransferStep:         command.NewTransferStepCommand(service),
		HandleMessage:        command.NewHandleMessageCommand(service),
	}
	if cfg.dispatcher != nil {
		facade.commands.DispatchProcess = command.NewDispatchProcessCommand(cfg.dispatcher)
	}
	facade.queries = Queries{
		GetNegotiation:  query.NewGetNegotiationQuery(service),
		GetTransfer:     query.NewGetTransferQuery(service),
		DescribeProcess: query.NewDescribeProcessQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// InboundRouter builds the protocol HTTP surface over the facade's service.
func (f *Facade) InboundRouter(verifier core.CredentialVerifier, catalog inbound.CatalogProvider) (*inbound.Router, error) {
	if f == nil || f.service == nil {
		return nil, fmt.Errorf("connector: facade is not configured")
	}
	router, err := inbound.NewRouter(f.service, verifier)
	if err != nil {
		return nil, err
	}
	if catalog != nil {
		router.Catalog = catalog
	}
	return router, nil
}

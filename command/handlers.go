package command

import (
	"context"
	"encoding/json"

	gocmd "github.com/goliatone/go-command"
	"github.com/thomasrutger/Connector/core"
)

type NegotiationService interface {
	RequestNegotiation(ctx context.Context, in core.RequestNegotiationInput) (core.ContractNegotiation, error)
	OfferNegotiation(ctx context.Context, id string, offer json.RawMessage) (core.ContractNegotiation, error)
	AcceptNegotiation(ctx context.Context, id string) (core.ContractNegotiation, error)
	AgreeNegotiation(ctx context.Context, id string, agreement json.RawMessage) (core.ContractNegotiation, error)
	VerifyNegotiation(ctx context.Context, id string) (core.ContractNegotiation, error)
	FinalizeNegotiation(ctx context.Context, id string) (core.ContractNegotiation, error)
	TerminateNegotiation(ctx context.Context, id string, reason string) (core.ContractNegotiation, error)
}

type TransferService interface {
	RequestTransfer(ctx context.Context, in core.RequestTransferInput) (core.TransferProcess, error)
	StartTransfer(ctx context.Context, id string, dataAddress json.RawMessage) (core.TransferProcess, error)
	SuspendTransfer(ctx context.Context, id string, reason string) (core.TransferProcess, error)
	ResumeTransfer(ctx context.Context, id string) (core.TransferProcess, error)
	CompleteTransfer(ctx context.Context, id string) (core.TransferProcess, error)
	TerminateTransfer(ctx context.Context, id string, reason string) (core.TransferProcess, error)
}

type MessageHandler interface {
	HandleProtocolMessage(ctx context.Context, msg core.ProtocolMessage, claims core.Claims) (core.HandleOutcome, error)
}

type ProcessDispatcher interface {
	DispatchProcess(ctx context.Context, kind core.ProcessKind, id string) error
}

type RequestNegotiationCommand struct {
	service NegotiationService
}

func NewRequestNegotiationCommand(service NegotiationService) *RequestNegotiationCommand {
	return &RequestNegotiationCommand{service: service}
}

func (c *RequestNegotiationCommand) Execute(ctx context.Context, msg RequestNegotiationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: negotiation service is required")
	}
	out, err := c.service.RequestNegotiation(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type OfferNegotiationCommand struct {
	service NegotiationService
}

func NewOfferNegotiationCommand(service NegotiationService) *OfferNegotiationCommand {
	return &OfferNegotiationCommand{service: service}
}

func (c *OfferNegotiationCommand) Execute(ctx context.Context, msg OfferNegotiationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: negotiation service is required")
	}
	out, err := c.service.OfferNegotiation(ctx, msg.ID, msg.Offer)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type AgreeNegotiationCommand struct {
	service NegotiationService
}

func NewAgreeNegotiationCommand(service NegotiationService) *AgreeNegotiationCommand {
	return &AgreeNegotiationCommand{service: service}
}

func (c *AgreeNegotiationCommand) Execute(ctx context.Context, msg AgreeNegotiationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: negotiation service is required")
	}
	out, err := c.service.AgreeNegotiation(ctx, msg.ID, msg.Agreement)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

// NegotiationStepCommand runs accept, verify or finalize depending on the
// message step.
type NegotiationStepCommand struct {
	service NegotiationService
}

func NewNegotiationStepCommand(service NegotiationService) *NegotiationStepCommand {
	return &NegotiationStepCommand{service: service}
}

func (c *NegotiationStepCommand) Execute(ctx context.Context, msg NegotiationStepMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: negotiation service is required")
	}
	var (
		out core.ContractNegotiation
		err error
	)
	switch msg.Step {
	case TypeAcceptNegotiation:
		out, err = c.service.AcceptNegotiation(ctx, msg.ID)
	case TypeVerifyNegotiation:
		out, err = c.service.VerifyNegotiation(ctx, msg.ID)
	case TypeFinalizeNegotiation:
		out, err = c.service.FinalizeNegotiation(ctx, msg.ID)
	default:
		return commandInvalidInputError("command: unsupported negotiation step " + msg.Step)
	}
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type TerminateNegotiationCommand struct {
	service NegotiationService
}

func NewTerminateNegotiationCommand(service NegotiationService) *TerminateNegotiationCommand {
	return &TerminateNegotiationCommand{service: service}
}

func (c *TerminateNegotiationCommand) Execute(ctx context.Context, msg TerminateNegotiationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: negotiation service is required")
	}
	out, err := c.service.TerminateNegotiation(ctx, msg.ID, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RequestTransferCommand struct {
	service TransferService
}

func NewRequestTransferCommand(service TransferService) *RequestTransferCommand {
	return &RequestTransferCommand{service: service}
}

func (c *RequestTransferCommand) Execute(ctx context.Context, msg RequestTransferMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: transfer service is required")
	}
	out, err := c.service.RequestTransfer(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type StartTransferCommand struct {
	service TransferService
}

func NewStartTransferCommand(service TransferService) *StartTransferCommand {
	return &StartTransferCommand{service: service}
}

func (c *StartTransferCommand) Execute(ctx context.Context, msg StartTransferMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: transfer service is required")
	}
	out, err := c.service.StartTransfer(ctx, msg.ID, msg.DataAddress)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type TransferStepCommand struct {
	service TransferService
}

func NewTransferStepCommand(service TransferService) *TransferStepCommand {
	return &TransferStepCommand{service: service}
}

func (c *TransferStepCommand) Execute(ctx context.Context, msg TransferStepMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: transfer service is required")
	}
	var (
		out core.TransferProcess
		err error
	)
	switch msg.Step {
	case TypeSuspendTransfer:
		out, err = c.service.SuspendTransfer(ctx, msg.ID, msg.Reason)
	case TypeResumeTransfer:
		out, err = c.service.ResumeTransfer(ctx, msg.ID)
	case TypeCompleteTransfer:
		out, err = c.service.CompleteTransfer(ctx, msg.ID)
	case TypeTerminateTransfer:
		out, err = c.service.TerminateTransfer(ctx, msg.ID, msg.Reason)
	default:
		return commandInvalidInputError("command: unsupported transfer step " + msg.Step)
	}
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type HandleMessageCommand struct {
	handler MessageHandler
}

func NewHandleMessageCommand(handler MessageHandler) *HandleMessageCommand {
	return &HandleMessageCommand{handler: handler}
}

func (c *HandleMessageCommand) Execute(ctx context.Context, msg HandleMessageMessage) error {
	if c == nil || c.handler == nil {
		return commandDependencyError("command: protocol message handler is required")
	}
	out, err := c.handler.HandleProtocolMessage(ctx, msg.Message, msg.Claims)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DispatchProcessCommand struct {
	dispatcher ProcessDispatcher
}

func NewDispatchProcessCommand(dispatcher ProcessDispatcher) *DispatchProcessCommand {
	return &DispatchProcessCommand{dispatcher: dispatcher}
}

func (c *DispatchProcessCommand) Execute(ctx context.Context, msg DispatchProcessMessage) error {
	if c == nil || c.dispatcher == nil {
		return commandDependencyError("command: process dispatcher is required")
	}
	return c.dispatcher.DispatchProcess(ctx, msg.Kind, msg.ID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

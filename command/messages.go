package command

import (
	"encoding/json"
	"strings"

	"github.com/thomasrutger/Connector/core"
)

const (
	TypeRequestNegotiation   = "connector.command.negotiation.request"
	TypeOfferNegotiation     = "connector.command.negotiation.offer"
	TypeAcceptNegotiation    = "connector.command.negotiation.accept"
	TypeAgreeNegotiation     = "connector.command.negotiation.agree"
	TypeVerifyNegotiation    = "connector.command.negotiation.verify"
	TypeFinalizeNegotiation  = "connector.command.negotiation.finalize"
	TypeTerminateNegotiation = "connector.command.negotiation.terminate"
	TypeRequestTransfer      = "connector.command.transfer.request"
	TypeStartTransfer        = "connector.command.transfer.start"
	TypeSuspendTransfer      = "connector.command.transfer.suspend"
	TypeResumeTransfer       = "connector.command.transfer.resume"
	TypeCompleteTransfer     = "connector.command.transfer.complete"
	TypeTerminateTransfer    = "connector.command.transfer.terminate"
	TypeNegotiationStep      = "connector.command.negotiation.step"
	TypeTransferStep         = "connector.command.transfer.step"
	TypeHandleMessage        = "connector.command.protocol_message.handle"
	TypeDispatchProcess      = "connector.command.process.dispatch"
)

type RequestNegotiationMessage struct {
	Input core.RequestNegotiationInput
}

func (RequestNegotiationMessage) Type() string { return TypeRequestNegotiation }

func (m RequestNegotiationMessage) Validate() error {
	if strings.TrimSpace(m.Input.CounterpartyID) == "" {
		return commandValidationError("counterparty_id", "counterparty id is required")
	}
	if strings.TrimSpace(m.Input.CounterpartyAddress) == "" {
		return commandValidationError("counterparty_address", "counterparty address is required")
	}
	return validatePayload("offer", m.Input.Offer)
}

// NegotiationStepMessage advances a negotiation through a payload-free local
// step: accept, verify or finalize.
type NegotiationStepMessage struct {
	ID   string
	Step string
}

func (NegotiationStepMessage) Type() string { return TypeNegotiationStep }

func (m NegotiationStepMessage) Validate() error {
	switch m.Step {
	case TypeAcceptNegotiation, TypeVerifyNegotiation, TypeFinalizeNegotiation:
	default:
		return commandValidationError("step", "unsupported negotiation step "+m.Step)
	}
	return validateID(m.ID)
}

type OfferNegotiationMessage struct {
	ID    string
	Offer json.RawMessage
}

func (OfferNegotiationMessage) Type() string { return TypeOfferNegotiation }

func (m OfferNegotiationMessage) Validate() error {
	if err := validateID(m.ID); err != nil {
		return err
	}
	return validatePayload("offer", m.Offer)
}

type AgreeNegotiationMessage struct {
	ID        string
	Agreement json.RawMessage
}

func (AgreeNegotiationMessage) Type() string { return TypeAgreeNegotiation }

func (m AgreeNegotiationMessage) Validate() error {
	if err := validateID(m.ID); err != nil {
		return err
	}
	return validatePayload("agreement", m.Agreement)
}

type TerminateNegotiationMessage struct {
	ID     string
	Reason string
}

func (TerminateNegotiationMessage) Type() string { return TypeTerminateNegotiation }

func (m TerminateNegotiationMessage) Validate() error {
	return validateID(m.ID)
}

type RequestTransferMessage struct {
	Input core.RequestTransferInput
}

func (RequestTransferMessage) Type() string { return TypeRequestTransfer }

func (m RequestTransferMessage) Validate() error {
	if strings.TrimSpace(m.Input.CounterpartyID) == "" {
		return commandValidationError("counterparty_id", "counterparty id is required")
	}
	if strings.TrimSpace(m.Input.CounterpartyAddress) == "" {
		return commandValidationError("counterparty_address", "counterparty address is required")
	}
	if strings.TrimSpace(m.Input.AgreementID) == "" {
		return commandValidationError("agreement_id", "agreement id is required")
	}
	return validatePayload("data_address", m.Input.DataAddress)
}

type StartTransferMessage struct {
	ID          string
	DataAddress json.RawMessage
}

func (StartTransferMessage) Type() string { return TypeStartTransfer }

func (m StartTransferMessage) Validate() error {
	if err := validateID(m.ID); err != nil {
		return err
	}
	return validatePayload("data_address", m.DataAddress)
}

// TransferStepMessage covers the transfer steps that carry at most a reason.
type TransferStepMessage struct {
	ID     string
	Step   string
	Reason string
}

func (TransferStepMessage) Type() string { return TypeTransferStep }

func (m TransferStepMessage) Validate() error {
	switch m.Step {
	case TypeSuspendTransfer, TypeResumeTransfer, TypeCompleteTransfer, TypeTerminateTransfer:
	default:
		return commandValidationError("step", "unsupported transfer step "+m.Step)
	}
	return validateID(m.ID)
}

// HandleMessageMessage applies an inbound protocol message for a caller that
// was already authenticated.
type HandleMessageMessage struct {
	Message core.ProtocolMessage
	Claims  core.Claims
}

func (HandleMessageMessage) Type() string { return TypeHandleMessage }

func (m HandleMessageMessage) Validate() error {
	if strings.TrimSpace(m.Claims.Subject) == "" {
		return commandValidationError("claims.subject", "caller subject is required")
	}
	if strings.TrimSpace(m.Message.Type) == "" {
		return commandValidationError("message.@type", "message type is required")
	}
	if strings.TrimSpace(m.Message.CorrelationID) == "" {
		return commandValidationError("message.correlation_id", "correlation id is required")
	}
	return nil
}

type DispatchProcessMessage struct {
	Kind core.ProcessKind
	ID   string
}

func (DispatchProcessMessage) Type() string { return TypeDispatchProcess }

func (m DispatchProcessMessage) Validate() error {
	switch m.Kind {
	case core.ProcessNegotiation, core.ProcessTransfer:
	default:
		return commandValidationError("kind", "process kind must be negotiation or transfer")
	}
	return validateID(m.ID)
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return commandValidationError("id", "process id is required")
	}
	return nil
}

func validatePayload(field string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	if !json.Valid(raw) {
		return commandValidationError(field, "must be valid json")
	}
	return nil
}

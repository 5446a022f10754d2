package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultProtocolVersion = "dataspace-protocol-http:2024/1"
	protocolNamespace      = "dspace:"
)

// MessageKind tags every input a state machine accepts. Wire kinds map to a
// DSP message type (plus event type for negotiation events); internal kinds
// are produced only by the process manager.
type MessageKind string

const (
	KindContractRequest        MessageKind = "ContractRequest"
	KindContractOffer          MessageKind = "ContractOffer"
	KindNegotiationAccepted    MessageKind = "NegotiationAccepted"
	KindContractAgreement      MessageKind = "ContractAgreement"
	KindAgreementVerification  MessageKind = "AgreementVerification"
	KindNegotiationFinalized   MessageKind = "NegotiationFinalized"
	KindNegotiationTermination MessageKind = "NegotiationTermination"

	KindTransferRequest     MessageKind = "TransferRequest"
	KindTransferStart       MessageKind = "TransferStart"
	KindTransferSuspension  MessageKind = "TransferSuspension"
	KindTransferCompletion  MessageKind = "TransferCompletion"
	KindTransferTermination MessageKind = "TransferTermination"

	KindTerminationSent MessageKind = "TerminationSent"
	KindProcessFailed   MessageKind = "ProcessFailed"
)

type messageSpec struct {
	area       ProcessKind
	wireType   string
	eventType  string
	originator Role
	initiating bool
	internal   bool
	path       string
}

var messageSpecs = map[MessageKind]messageSpec{
	KindContractRequest: {
		area: ProcessNegotiation, wireType: "ContractRequestMessage",
		originator: RoleConsumer, initiating: true, path: "/negotiations/request",
	},
	KindContractOffer: {
		area: ProcessNegotiation, wireType: "ContractOfferMessage",
		originator: RoleProvider, path: "/negotiations/{cid}/offers",
	},
	KindNegotiationAccepted: {
		area: ProcessNegotiation, wireType: "ContractNegotiationEventMessage", eventType: "ACCEPTED",
		originator: RoleConsumer, path: "/negotiations/{cid}/events",
	},
	KindContractAgreement: {
		area: ProcessNegotiation, wireType: "ContractAgreementMessage",
		originator: RoleProvider, path: "/negotiations/{cid}/agreement",
	},
	KindAgreementVerification: {
		area: ProcessNegotiation, wireType: "ContractAgreementVerificationMessage",
		originator: RoleConsumer, path: "/negotiations/{cid}/agreement/verification",
	},
	KindNegotiationFinalized: {
		area: ProcessNegotiation, wireType: "ContractNegotiationEventMessage", eventType: "FINALIZED",
		originator: RoleProvider, path: "/negotiations/{cid}/events",
	},
	KindNegotiationTermination: {
		area: ProcessNegotiation, wireType: "ContractNegotiationTerminationMessage",
		path: "/negotiations/{cid}/termination",
	},
	KindTransferRequest: {
		area: ProcessTransfer, wireType: "TransferRequestMessage",
		originator: RoleConsumer, initiating: true, path: "/transfers/request",
	},
	KindTransferStart: {
		area: ProcessTransfer, wireType: "TransferStartMessage",
		path: "/transfers/{cid}/start",
	},
	KindTransferSuspension: {
		area: ProcessTransfer, wireType: "TransferSuspensionMessage",
		path: "/transfers/{cid}/suspension",
	},
	KindTransferCompletion: {
		area: ProcessTransfer, wireType: "TransferCompletionMessage",
		path: "/transfers/{cid}/completion",
	},
	KindTransferTermination: {
		area: ProcessTransfer, wireType: "TransferTerminationMessage",
		path: "/transfers/{cid}/termination",
	},
	KindTerminationSent: {area: ProcessNegotiation, internal: true},
	KindProcessFailed:   {internal: true},
}

func (k MessageKind) spec() (messageSpec, bool) {
	spec, ok := messageSpecs[k]
	return spec, ok
}

func (k MessageKind) Area() ProcessKind {
	spec, _ := k.spec()
	return spec.area
}

func (k MessageKind) Initiating() bool {
	spec, _ := k.spec()
	return spec.initiating
}

// Originator is the role allowed to send the message; empty means either.
func (k MessageKind) Originator() Role {
	spec, _ := k.spec()
	return spec.originator
}

func (k MessageKind) IsTermination() bool {
	return k == KindNegotiationTermination || k == KindTransferTermination
}

// WireType returns the namespaced message type and, for negotiation events,
// the namespaced event type.
func (k MessageKind) WireType() (string, string) {
	spec, ok := k.spec()
	if !ok || spec.internal {
		return "", ""
	}
	eventType := ""
	if spec.eventType != "" {
		eventType = protocolNamespace + spec.eventType
	}
	return protocolNamespace + spec.wireType, eventType
}

// Path resolves the counterparty endpoint path for the message.
func (k MessageKind) Path(correlationID string) (string, error) {
	spec, ok := k.spec()
	if !ok || spec.internal || spec.path == "" {
		return "", fmt.Errorf("core: message kind %q has no endpoint", k)
	}
	return strings.ReplaceAll(spec.path, "{cid}", url.PathEscape(correlationID)), nil
}

// Route is the endpoint path template, with {cid} standing for the
// correlation id.
func (k MessageKind) Route() string {
	spec, ok := k.spec()
	if !ok || spec.internal {
		return ""
	}
	return spec.path
}

// KindFromWire resolves a wire type (with or without namespace) to a kind.
func KindFromWire(wireType string, eventType string) (MessageKind, bool) {
	wireType = strings.TrimPrefix(strings.TrimSpace(wireType), protocolNamespace)
	eventType = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(eventType), protocolNamespace))
	for kind, spec := range messageSpecs {
		if spec.internal || spec.wireType != wireType {
			continue
		}
		if spec.eventType != "" && spec.eventType != eventType {
			continue
		}
		return kind, true
	}
	return "", false
}

func KindsForArea(area ProcessKind) []MessageKind {
	kinds := make([]MessageKind, 0, 8)
	for kind, spec := range messageSpecs {
		if !spec.internal && spec.area == area {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// ProtocolMessage is the JSON envelope exchanged between participants.
type ProtocolMessage struct {
	Type            string          `json:"@type"`
	EventType       string          `json:"eventType,omitempty"`
	CorrelationID   string          `json:"correlationId"`
	SenderRole      Role            `json:"senderRole"`
	Protocol        string          `json:"protocol,omitempty"`
	ProcessID       string          `json:"processId,omitempty"`
	CallbackAddress string          `json:"callbackAddress,omitempty"`
	AgreementID     string          `json:"agreementId,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

func (m ProtocolMessage) Kind() (MessageKind, bool) {
	return KindFromWire(m.Type, m.EventType)
}

// DecodeProtocolMessage parses and validates an inbound envelope.
func DecodeProtocolMessage(raw []byte, supportedProtocols ...string) (ProtocolMessage, MessageKind, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ProtocolMessage{}, "", malformed("message body is required")
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	var msg ProtocolMessage
	if err := decoder.Decode(&msg); err != nil {
		return ProtocolMessage{}, "", malformed("message body is not valid json: %v", err)
	}
	kind, err := msg.Validate(supportedProtocols...)
	if err != nil {
		return ProtocolMessage{}, "", err
	}
	return msg, kind, nil
}

// Validate checks the envelope against the message table and returns its kind.
func (m ProtocolMessage) Validate(supportedProtocols ...string) (MessageKind, error) {
	if strings.TrimSpace(m.Type) == "" {
		return "", malformed("@type is required")
	}
	kind, ok := m.Kind()
	if !ok {
		return "", malformed("unknown message type %q", m.Type)
	}
	if strings.TrimSpace(m.CorrelationID) == "" {
		return "", malformed("correlationId is required")
	}
	if !m.SenderRole.Valid() {
		return "", malformed("senderRole must be consumer or provider")
	}
	if originator := kind.Originator(); originator != "" && originator != m.SenderRole {
		return "", malformed("%s may only be sent by the %s", m.Type, originator)
	}
	if protocol := strings.TrimSpace(m.Protocol); protocol != "" && len(supportedProtocols) > 0 {
		if !containsString(supportedProtocols, protocol) {
			return "", malformed("unsupported protocol version %q", protocol)
		}
	}
	if kind.Initiating() {
		if err := validateCallbackAddress(m.CallbackAddress); err != nil {
			return "", err
		}
	}
	if kind == KindTransferRequest && strings.TrimSpace(m.AgreementID) == "" {
		return "", malformed("agreementId is required")
	}
	return kind, nil
}

func validateCallbackAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return malformed("callbackAddress is required")
	}
	parsed, err := url.Parse(address)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return malformed("callbackAddress must be an absolute http(s) url")
	}
	return nil
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if strings.TrimSpace(value) == target {
			return true
		}
	}
	return false
}

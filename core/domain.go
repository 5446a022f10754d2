package core

import (
	"encoding/json"
	"strings"
	"time"
)

type Role string

const (
	RoleConsumer Role = "consumer"
	RoleProvider Role = "provider"
)

func (r Role) Valid() bool {
	return r == RoleConsumer || r == RoleProvider
}

// Counter returns the role of the other party.
func (r Role) Counter() Role {
	switch r {
	case RoleConsumer:
		return RoleProvider
	case RoleProvider:
		return RoleConsumer
	default:
		return ""
	}
}

func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	return role, role.Valid()
}

type ProcessKind string

const (
	ProcessNegotiation ProcessKind = "negotiation"
	ProcessTransfer    ProcessKind = "transfer"
)

type NegotiationState string

const (
	NegotiationRequested   NegotiationState = "REQUESTED"
	NegotiationOffered     NegotiationState = "OFFERED"
	NegotiationAccepted    NegotiationState = "ACCEPTED"
	NegotiationAgreed      NegotiationState = "AGREED"
	NegotiationVerified    NegotiationState = "VERIFIED"
	NegotiationFinalized   NegotiationState = "FINALIZED"
	NegotiationTerminating NegotiationState = "TERMINATING"
	NegotiationTerminated  NegotiationState = "TERMINATED"
)

func (s NegotiationState) Terminal() bool {
	return s == NegotiationFinalized || s == NegotiationTerminated
}

type TransferState string

const (
	TransferRequested  TransferState = "REQUESTED"
	TransferStarted    TransferState = "STARTED"
	TransferSuspended  TransferState = "SUSPENDED"
	TransferCompleted  TransferState = "COMPLETED"
	TransferTerminated TransferState = "TERMINATED"
)

func (s TransferState) Terminal() bool {
	return s == TransferCompleted || s == TransferTerminated
}

// OutboundMessage is the single message a record still owes its counterparty.
type OutboundMessage struct {
	ID        string          `json:"id"`
	Kind      MessageKind     `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ProcessBase holds the fields shared by negotiations and transfers.
type ProcessBase struct {
	ID                  string
	CorrelationID       string
	Role                Role
	CounterpartyID      string
	CounterpartyAddress string
	Protocol            string
	StateTimestamp      time.Time
	RetryCount          int
	ErrorDetail         string
	Pending             *OutboundMessage
	NextAttemptAt       time.Time
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Base exposes the shared fields of a record for in-place updates.
func (b *ProcessBase) Base() *ProcessBase {
	return b
}

func (b ProcessBase) HasPending() bool {
	return b.Pending != nil
}

type ContractNegotiation struct {
	ProcessBase
	State     NegotiationState
	Offer     json.RawMessage
	Agreement json.RawMessage
}

func (n ContractNegotiation) Terminal() bool {
	return n.State.Terminal()
}

func (n ContractNegotiation) StateName() string {
	return string(n.State)
}

func (n ContractNegotiation) Clone() ContractNegotiation {
	out := n
	out.ProcessBase = n.ProcessBase.clone()
	out.Offer = cloneRaw(n.Offer)
	out.Agreement = cloneRaw(n.Agreement)
	return out
}

type TransferProcess struct {
	ProcessBase
	State       TransferState
	AgreementID string
	DataAddress json.RawMessage
}

func (t TransferProcess) Terminal() bool {
	return t.State.Terminal()
}

func (t TransferProcess) StateName() string {
	return string(t.State)
}

func (t TransferProcess) Clone() TransferProcess {
	out := t
	out.ProcessBase = t.ProcessBase.clone()
	out.DataAddress = cloneRaw(t.DataAddress)
	return out
}

// Claims is the verified identity of the caller of an inbound message.
type Claims struct {
	Subject  string
	Issuer   string
	Audience []string
	Attrs    map[string]any
}

func (b ProcessBase) clone() ProcessBase {
	out := b
	if b.Pending != nil {
		pending := *b.Pending
		pending.Payload = cloneRaw(b.Pending.Payload)
		out.Pending = &pending
	}
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// recordPointer is satisfied by *ContractNegotiation and *TransferProcess.
type recordPointer[R any] interface {
	*R
	Base() *ProcessBase
	Terminal() bool
	StateName() string
	Clone() R
}

package query

import (
	"strings"

	"github.com/thomasrutger/Connector/core"
)

const (
	TypeGetNegotiation  = "connector.query.negotiation.get"
	TypeGetTransfer     = "connector.query.transfer.get"
	TypeDescribeProcess = "connector.query.process.describe"
)

type GetNegotiationMessage struct {
	ID string
}

func (GetNegotiationMessage) Type() string { return TypeGetNegotiation }

func (m GetNegotiationMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return queryValidationError("id", "negotiation id is required")
	}
	return nil
}

type GetTransferMessage struct {
	ID string
}

func (GetTransferMessage) Type() string { return TypeGetTransfer }

func (m GetTransferMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return queryValidationError("id", "transfer id is required")
	}
	return nil
}

// DescribeProcessMessage looks a process up by correlation id on behalf of a
// counterparty, the way the protocol state endpoints do.
type DescribeProcessMessage struct {
	Kind          core.ProcessKind
	CorrelationID string
	Claims        core.Claims
}

func (DescribeProcessMessage) Type() string { return TypeDescribeProcess }

func (m DescribeProcessMessage) Validate() error {
	switch m.Kind {
	case core.ProcessNegotiation, core.ProcessTransfer:
	default:
		return queryValidationError("kind", "process kind must be negotiation or transfer")
	}
	if strings.TrimSpace(m.CorrelationID) == "" {
		return queryValidationError("correlation_id", "correlation id is required")
	}
	if strings.TrimSpace(m.Claims.Subject) == "" {
		return queryValidationError("claims.subject", "caller subject is required")
	}
	return nil
}

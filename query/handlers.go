package query

import (
	"context"

	"github.com/thomasrutger/Connector/core"
)

type NegotiationReader interface {
	GetNegotiation(ctx context.Context, id string) (core.ContractNegotiation, error)
}

type TransferReader interface {
	GetTransfer(ctx context.Context, id string) (core.TransferProcess, error)
}

type ProcessDescriber interface {
	DescribeProcess(ctx context.Context, kind core.ProcessKind, correlationID string, claims core.Claims) (core.Acknowledgement, error)
}

type GetNegotiationQuery struct {
	reader NegotiationReader
}

func NewGetNegotiationQuery(reader NegotiationReader) *GetNegotiationQuery {
	return &GetNegotiationQuery{reader: reader}
}

func (q *GetNegotiationQuery) Query(ctx context.Context, msg GetNegotiationMessage) (core.ContractNegotiation, error) {
	if q == nil || q.reader == nil {
		return core.ContractNegotiation{}, queryDependencyError("query: negotiation reader is required")
	}
	return q.reader.GetNegotiation(ctx, msg.ID)
}

type GetTransferQuery struct {
	reader TransferReader
}

func NewGetTransferQuery(reader TransferReader) *GetTransferQuery {
	return &GetTransferQuery{reader: reader}
}

func (q *GetTransferQuery) Query(ctx context.Context, msg GetTransferMessage) (core.TransferProcess, error) {
	if q == nil || q.reader == nil {
		return core.TransferProcess{}, queryDependencyError("query: transfer reader is required")
	}
	return q.reader.GetTransfer(ctx, msg.ID)
}

type DescribeProcessQuery struct {
	describer ProcessDescriber
}

func NewDescribeProcessQuery(describer ProcessDescriber) *DescribeProcessQuery {
	return &DescribeProcessQuery{describer: describer}
}

func (q *DescribeProcessQuery) Query(ctx context.Context, msg DescribeProcessMessage) (core.Acknowledgement, error) {
	if q == nil || q.describer == nil {
		return core.Acknowledgement{}, queryDependencyError("query: process describer is required")
	}
	return q.describer.DescribeProcess(ctx, msg.Kind, msg.CorrelationID, msg.Claims)
}

package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/thomasrutger/Connector/core"
)

var (
	_ gocmd.Querier[GetNegotiationMessage, core.ContractNegotiation] = (*GetNegotiationQuery)(nil)
	_ gocmd.Querier[GetTransferMessage, core.TransferProcess]        = (*GetTransferQuery)(nil)
	_ gocmd.Querier[DescribeProcessMessage, core.Acknowledgement]    = (*DescribeProcessQuery)(nil)

	_ NegotiationReader = (*core.Service)(nil)
	_ TransferReader    = (*core.Service)(nil)
	_ ProcessDescriber  = (*core.Service)(nil)
)

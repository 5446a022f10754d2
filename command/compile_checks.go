package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/thomasrutger/Connector/core"
)

var (
	_ gocmd.Commander[RequestNegotiationMessage]   = (*RequestNegotiationCommand)(nil)
	_ gocmd.Commander[OfferNegotiationMessage]     = (*OfferNegotiationCommand)(nil)
	_ gocmd.Commander[AgreeNegotiationMessage]     = (*AgreeNegotiationCommand)(nil)
	_ gocmd.Commander[NegotiationStepMessage]      = (*NegotiationStepCommand)(nil)
	_ gocmd.Commander[TerminateNegotiationMessage] = (*TerminateNegotiationCommand)(nil)
	_ gocmd.Commander[RequestTransferMessage]      = (*RequestTransferCommand)(nil)
	_ gocmd.Commander[StartTransferMessage]        = (*StartTransferCommand)(nil)
	_ gocmd.Commander[TransferStepMessage]         = (*TransferStepCommand)(nil)
	_ gocmd.Commander[HandleMessageMessage]        = (*HandleMessageCommand)(nil)
	_ gocmd.Commander[DispatchProcessMessage]      = (*DispatchProcessCommand)(nil)

	_ NegotiationService = (*core.Service)(nil)
	_ TransferService    = (*core.Service)(nil)
	_ MessageHandler     = (*core.Service)(nil)
	_ ProcessDispatcher  = (*core.ProcessManager)(nil)
)

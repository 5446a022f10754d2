package gocommand

import (
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	"github.com/thomasrutger/Connector/command"
	"github.com/thomasrutger/Connector/core"
	"github.com/thomasrutger/Connector/query"
)

type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, subscription := range s {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

// RegisterConnector registers every connector command and query against the
// adapter's registry and the global dispatcher. The dispatch command is only
// registered when a process manager is given.
func RegisterConnector(
	adapter *RegistryAdapter,
	svc *core.Service,
	manager *core.ProcessManager,
	runnerOpts ...runner.Option,
) (Subscriptions, error) {
	if svc == nil {
		return nil, fmt.Errorf("gocommand: connector service is required")
	}
	var subs Subscriptions
	add := func(subscription commanddispatcher.Subscription, err error) error {
		if err != nil {
			subs.Unsubscribe()
			return err
		}
		subs = append(subs, subscription)
		return nil
	}

	steps := []func() error{
		func() error {
			return add(RegisterAndSubscribe(adapter, command.NewRequestNegotiationCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribe(adapter, command.NewOfferNegotiationCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribe(adapter, command.NewAgreeNegotiationCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribe(adapter, command.NewNegotiationStepCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribe(adapter, command.NewTerminateNegotiationCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribe(adapter, command.NewRequestTransferCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribe(adapter, command.NewStartTransferCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribe(adapter, command.NewTransferStepCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribe(adapter, command.NewHandleMessageCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribeQuery(adapter, query.NewGetNegotiationQuery(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribeQuery(adapter, query.NewGetTransferQuery(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribeQuery(adapter, query.NewDescribeProcessQuery(svc), runnerOpts...))
		},
	}
	if manager != nil {
		steps = append(steps, func() error {
			return add(RegisterAndSubscribe(adapter, command.NewDispatchProcessCommand(manager), runnerOpts...))
		})
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

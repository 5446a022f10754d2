package core

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

type RequestTransferInput struct {
	CorrelationID       string
	CounterpartyID      string
	CounterpartyAddress string
	AgreementID         string
	DataAddress         json.RawMessage
}

// RequestTransfer creates a consumer transfer in REQUESTED and queues the
// transfer request for the provider.
func (s *Service) RequestTransfer(ctx context.Context, in RequestTransferInput) (record TransferProcess, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"process_kind": string(ProcessTransfer),
		"role":         string(RoleConsumer),
		"message_kind": string(KindTransferRequest),
	}
	defer func() {
		fields["process_id"] = record.ID
		fields["state"] = string(record.State)
		s.telemetry.observe(ctx, startedAt, "transfer.request", err, fields)
	}()
	if err = s.ready(); err != nil {
		return TransferProcess{}, err
	}
	agreementID := strings.TrimSpace(in.AgreementID)
	if agreementID == "" {
		return TransferProcess{}, s.mapError(malformed("agreement id is required"))
	}

	base, err := s.newLocalBase(RoleConsumer, in.CorrelationID, in.CounterpartyID, in.CounterpartyAddress)
	if err != nil {
		return TransferProcess{}, s.mapError(err)
	}
	rec := TransferProcess{
		ProcessBase: base,
		State:       TransferRequested,
		AgreementID: agreementID,
		DataAddress: cloneRaw(in.DataAddress),
	}
	spec, _ := KindTransferRequest.spec()
	stamp(&rec.ProcessBase, spec, Event{Kind: KindTransferRequest, Origin: OriginLocal, Payload: in.DataAddress}, false, base.CreatedAt)

	created, err := s.transfers.Create(ctx, rec)
	if err != nil {
		return TransferProcess{}, s.mapError(err)
	}
	s.enqueueDispatch(ctx, ProcessTransfer, created.ID)
	return created, nil
}

// StartTransfer is issued by the provider once data is ready. dataAddress is
// forwarded to the consumer for pull transfers.
func (s *Service) StartTransfer(ctx context.Context, id string, dataAddress json.RawMessage) (TransferProcess, error) {
	return s.transitionTransfer(ctx, "transfer.start", id, Event{
		Kind: KindTransferStart, Origin: OriginLocal, Payload: dataAddress, DataAddress: dataAddress,
	}, nil)
}

func (s *Service) SuspendTransfer(ctx context.Context, id string, reason string) (TransferProcess, error) {
	return s.transitionTransfer(ctx, "transfer.suspend", id, Event{
		Kind: KindTransferSuspension, Origin: OriginLocal, Reason: reason,
	}, nil)
}

// ResumeTransfer restarts a suspended transfer. Either role may resume.
func (s *Service) ResumeTransfer(ctx context.Context, id string) (TransferProcess, error) {
	return s.transitionTransfer(ctx, "transfer.resume", id, LocalEvent(KindTransferStart),
		func(current TransferProcess) error {
			if current.State == TransferRequested {
				return invalidTransition("transfer %s has not started yet", current.ID)
			}
			return nil
		},
	)
}

func (s *Service) CompleteTransfer(ctx context.Context, id string) (TransferProcess, error) {
	return s.transitionTransfer(ctx, "transfer.complete", id, LocalEvent(KindTransferCompletion), nil)
}

func (s *Service) TerminateTransfer(ctx context.Context, id string, reason string) (TransferProcess, error) {
	return s.transitionTransfer(ctx, "transfer.terminate", id, Event{
		Kind: KindTransferTermination, Origin: OriginLocal, Reason: reason,
	}, nil)
}

func (s *Service) GetTransfer(ctx context.Context, id string) (TransferProcess, error) {
	if err := s.ready(); err != nil {
		return TransferProcess{}, err
	}
	record, _, err := s.transfers.GetForUpdate(ctx, strings.TrimSpace(id))
	if err != nil {
		return TransferProcess{}, s.mapError(err)
	}
	return record, nil
}

func (s *Service) transitionTransfer(
	ctx context.Context,
	operation string,
	id string,
	ev Event,
	guard func(TransferProcess) error,
) (record TransferProcess, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"process_kind": string(ProcessTransfer),
		"process_id":   id,
		"message_kind": string(ev.Kind),
	}
	defer func() {
		fields["state"] = string(record.State)
		fields["role"] = string(record.Role)
		s.telemetry.observe(ctx, startedAt, operation, err, fields)
	}()
	if err = s.ready(); err != nil {
		return TransferProcess{}, err
	}

	now := s.now()
	result, err := runTransition[TransferProcess](ctx, s.transfers, id, s.config.MaxTransitionAttempts,
		func(current TransferProcess) (TransferProcess, bool, error) {
			if guard != nil {
				if guardErr := guard(current); guardErr != nil {
					return current, false, guardErr
				}
			}
			next, _, applyErr := ApplyTransfer(current, ev, now)
			if applyErr != nil {
				return current, false, applyErr
			}
			return next, next.State != current.State, nil
		},
	)
	s.telemetry.count(ctx, "transition.conflicts", int64(result.Conflicts), map[string]string{"process_kind": string(ProcessTransfer)})
	if err != nil {
		return result.Record, s.mapError(err)
	}
	fields["noop"] = !result.Changed
	if result.Changed && result.Record.Pending != nil && ev.Origin == OriginLocal {
		s.enqueueDispatch(ctx, ProcessTransfer, result.Record.ID)
	}
	return result.Record, nil
}

package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Acknowledgement is the body returned for an accepted protocol message.
type Acknowledgement struct {
	Type          string `json:"@type"`
	ProcessID     string `json:"processId"`
	CorrelationID string `json:"correlationId"`
	State         string `json:"state"`
	Protocol      string `json:"protocol,omitempty"`
}

type HandleOutcome struct {
	Status  int
	Created bool
	// NoOp is set when the message was a duplicate or an already applied
	// replay.
	NoOp bool
	Ack  Acknowledgement
}

// HandleMessage decodes, validates and applies one inbound protocol message
// on behalf of the verified caller.
func (s *Service) HandleMessage(ctx context.Context, raw []byte, claims Claims) (HandleOutcome, error) {
	if err := s.ready(); err != nil {
		return HandleOutcome{}, err
	}
	msg, _, err := DecodeProtocolMessage(raw, s.config.Protocols()...)
	if err != nil {
		s.telemetry.observe(ctx, time.Now(), "message.handle", err, map[string]any{"caller": claims.Subject})
		return HandleOutcome{}, s.mapError(err)
	}
	return s.HandleProtocolMessage(ctx, msg, claims)
}

func (s *Service) HandleProtocolMessage(ctx context.Context, msg ProtocolMessage, claims Claims) (outcome HandleOutcome, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"correlation_id": msg.CorrelationID,
		"caller":         claims.Subject,
	}
	defer func() {
		fields["state"] = outcome.Ack.State
		fields["noop"] = outcome.NoOp
		s.telemetry.observe(ctx, startedAt, "message.handle", err, fields)
	}()
	if err = s.ready(); err != nil {
		return HandleOutcome{}, err
	}

	kind, err := msg.Validate(s.config.Protocols()...)
	if err != nil {
		return HandleOutcome{}, s.mapError(err)
	}
	fields["message_kind"] = string(kind)
	fields["process_kind"] = string(kind.Area())
	fields["role"] = string(msg.SenderRole.Counter())
	if strings.TrimSpace(claims.Subject) == "" {
		return HandleOutcome{}, s.mapError(fmt.Errorf("%w: caller claims carry no subject", ErrUnauthenticated))
	}

	switch kind.Area() {
	case ProcessNegotiation:
		outcome, err = s.handleNegotiationMessage(ctx, msg, kind, claims)
	case ProcessTransfer:
		outcome, err = s.handleTransferMessage(ctx, msg, kind, claims)
	default:
		err = malformed("message %s has no process area", msg.Type)
	}
	return outcome, s.mapError(err)
}

func (s *Service) handleNegotiationMessage(ctx context.Context, msg ProtocolMessage, kind MessageKind, claims Claims) (HandleOutcome, error) {
	receiver := msg.SenderRole.Counter()
	ev := Event{Kind: kind, Origin: OriginRemote, Payload: msg.Payload, Reason: msg.Reason}

	// A concurrent duplicate of an initiating message loses the create race
	// and is applied against the winner's record on the second pass.
	for pass := 0; pass < 2; pass++ {
		record, err := s.negotiations.FindByCorrelation(ctx, msg.CorrelationID, receiver)
		if errors.Is(err, ErrUnknownProcess) {
			if !kind.Initiating() {
				return HandleOutcome{}, err
			}
			created, createErr := s.negotiations.Create(ctx, ContractNegotiation{
				ProcessBase: s.newRemoteBase(msg, receiver, claims),
				State:       NegotiationRequested,
				Offer:       cloneRaw(msg.Payload),
			})
			if errors.Is(createErr, ErrStoreConflict) {
				continue
			}
			if createErr != nil {
				return HandleOutcome{}, createErr
			}
			return HandleOutcome{
				Status:  http.StatusCreated,
				Created: true,
				Ack:     negotiationAck(created),
			}, nil
		}
		if err != nil {
			return HandleOutcome{}, err
		}
		if err := checkCaller(record.ProcessBase, claims); err != nil {
			return HandleOutcome{}, err
		}

		now := s.now()
		result, err := runTransition[ContractNegotiation](ctx, s.negotiations, record.ID, s.config.MaxTransitionAttempts,
			func(current ContractNegotiation) (ContractNegotiation, bool, error) {
				next, _, applyErr := ApplyNegotiation(current, ev, now)
				if applyErr != nil {
					return current, false, applyErr
				}
				return next, next.State != current.State, nil
			},
		)
		s.telemetry.count(ctx, "transition.conflicts", int64(result.Conflicts), map[string]string{"process_kind": string(ProcessNegotiation)})
		if err != nil {
			return HandleOutcome{}, err
		}
		return HandleOutcome{
			Status: http.StatusOK,
			NoOp:   !result.Changed,
			Ack:    negotiationAck(result.Record),
		}, nil
	}
	return HandleOutcome{}, ErrTransitionContention
}

func (s *Service) handleTransferMessage(ctx context.Context, msg ProtocolMessage, kind MessageKind, claims Claims) (HandleOutcome, error) {
	receiver := msg.SenderRole.Counter()
	ev := Event{Kind: kind, Origin: OriginRemote, Payload: msg.Payload, Reason: msg.Reason}
	if kind == KindTransferStart {
		ev.DataAddress = msg.Payload
	}

	for pass := 0; pass < 2; pass++ {
		record, err := s.transfers.FindByCorrelation(ctx, msg.CorrelationID, receiver)
		if errors.Is(err, ErrUnknownProcess) {
			if !kind.Initiating() {
				return HandleOutcome{}, err
			}
			created, createErr := s.transfers.Create(ctx, TransferProcess{
				ProcessBase: s.newRemoteBase(msg, receiver, claims),
				State:       TransferRequested,
				AgreementID: strings.TrimSpace(msg.AgreementID),
				DataAddress: cloneRaw(msg.Payload),
			})
			if errors.Is(createErr, ErrStoreConflict) {
				continue
			}
			if createErr != nil {
				return HandleOutcome{}, createErr
			}
			return HandleOutcome{
				Status:  http.StatusCreated,
				Created: true,
				Ack:     transferAck(created),
			}, nil
		}
		if err != nil {
			return HandleOutcome{}, err
		}
		if err := checkCaller(record.ProcessBase, claims); err != nil {
			return HandleOutcome{}, err
		}

		now := s.now()
		result, err := runTransition[TransferProcess](ctx, s.transfers, record.ID, s.config.MaxTransitionAttempts,
			func(current TransferProcess) (TransferProcess, bool, error) {
				next, _, applyErr := ApplyTransfer(current, ev, now)
				if applyErr != nil {
					return current, false, applyErr
				}
				return next, next.State != current.State, nil
			},
		)
		s.telemetry.count(ctx, "transition.conflicts", int64(result.Conflicts), map[string]string{"process_kind": string(ProcessTransfer)})
		if err != nil {
			return HandleOutcome{}, err
		}
		return HandleOutcome{
			Status: http.StatusOK,
			NoOp:   !result.Changed,
			Ack:    transferAck(result.Record),
		}, nil
	}
	return HandleOutcome{}, ErrTransitionContention
}

func (s *Service) newRemoteBase(msg ProtocolMessage, receiver Role, claims Claims) ProcessBase {
	now := s.now()
	protocol := strings.TrimSpace(msg.Protocol)
	if protocol == "" {
		protocol = s.config.Protocol
	}
	return ProcessBase{
		ID:                  uuid.NewString(),
		CorrelationID:       strings.TrimSpace(msg.CorrelationID),
		Role:                receiver,
		CounterpartyID:      strings.TrimSpace(claims.Subject),
		CounterpartyAddress: strings.TrimRight(strings.TrimSpace(msg.CallbackAddress), "/"),
		Protocol:            protocol,
		StateTimestamp:      now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func checkCaller(base ProcessBase, claims Claims) error {
	if strings.TrimSpace(claims.Subject) != base.CounterpartyID {
		return fmt.Errorf("%w: caller is not the counterparty of process %s", ErrIdentityMismatch, base.ID)
	}
	return nil
}

func negotiationAck(record ContractNegotiation) Acknowledgement {
	return Acknowledgement{
		Type:          protocolNamespace + "ContractNegotiation",
		ProcessID:     record.ID,
		CorrelationID: record.CorrelationID,
		State:         protocolNamespace + string(record.State),
		Protocol:      record.Protocol,
	}
}

func transferAck(record TransferProcess) Acknowledgement {
	return Acknowledgement{
		Type:          protocolNamespace + "TransferProcess",
		ProcessID:     record.ID,
		CorrelationID: record.CorrelationID,
		State:         protocolNamespace + string(record.State),
		Protocol:      record.Protocol,
	}
}

// DescribeProcess returns the state of the process the caller shares with
// this participant under correlationID.
func (s *Service) DescribeProcess(ctx context.Context, kind ProcessKind, correlationID string, claims Claims) (Acknowledgement, error) {
	if err := s.ready(); err != nil {
		return Acknowledgement{}, err
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return Acknowledgement{}, s.mapError(malformed("correlation id is required"))
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Acknowledgement{}, s.mapError(fmt.Errorf("%w: caller claims carry no subject", ErrUnauthenticated))
	}

	found := false
	for _, role := range []Role{RoleProvider, RoleConsumer} {
		var (
			base ProcessBase
			ack  Acknowledgement
			err  error
		)
		switch kind {
		case ProcessNegotiation:
			var record ContractNegotiation
			record, err = s.negotiations.FindByCorrelation(ctx, correlationID, role)
			base, ack = record.ProcessBase, negotiationAck(record)
		case ProcessTransfer:
			var record TransferProcess
			record, err = s.transfers.FindByCorrelation(ctx, correlationID, role)
			base, ack = record.ProcessBase, transferAck(record)
		default:
			return Acknowledgement{}, s.mapError(malformed("unknown process kind %q", kind))
		}
		if errors.Is(err, ErrUnknownProcess) {
			continue
		}
		if err != nil {
			return Acknowledgement{}, s.mapError(err)
		}
		found = true
		if checkCaller(base, claims) == nil {
			return ack, nil
		}
	}
	if found {
		return Acknowledgement{}, s.mapError(fmt.Errorf("%w: caller is not a party to %s", ErrIdentityMismatch, correlationID))
	}
	return Acknowledgement{}, s.mapError(fmt.Errorf("%w: correlation %s", ErrUnknownProcess, correlationID))
}

package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RequestNegotiationInput struct {
	// CorrelationID is generated when empty.
	CorrelationID       string
	CounterpartyID      string
	CounterpartyAddress string
	Offer               json.RawMessage
}

// RequestNegotiation creates a consumer negotiation in REQUESTED and queues
// the contract request for the provider.
func (s *Service) RequestNegotiation(ctx context.Context, in RequestNegotiationInput) (record ContractNegotiation, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"process_kind": string(ProcessNegotiation),
		"role":         string(RoleConsumer),
		"message_kind": string(KindContractRequest),
	}
	defer func() {
		fields["process_id"] = record.ID
		fields["state"] = string(record.State)
		s.telemetry.observe(ctx, startedAt, "negotiation.request", err, fields)
	}()
	if err = s.ready(); err != nil {
		return ContractNegotiation{}, err
	}

	base, err := s.newLocalBase(RoleConsumer, in.CorrelationID, in.CounterpartyID, in.CounterpartyAddress)
	if err != nil {
		return ContractNegotiation{}, s.mapError(err)
	}
	rec := ContractNegotiation{
		ProcessBase: base,
		State:       NegotiationRequested,
		Offer:       cloneRaw(in.Offer),
	}
	spec, _ := KindContractRequest.spec()
	stamp(&rec.ProcessBase, spec, Event{Kind: KindContractRequest, Origin: OriginLocal, Payload: in.Offer}, false, base.CreatedAt)

	created, err := s.negotiations.Create(ctx, rec)
	if err != nil {
		return ContractNegotiation{}, s.mapError(err)
	}
	s.enqueueDispatch(ctx, ProcessNegotiation, created.ID)
	return created, nil
}

func (s *Service) OfferNegotiation(ctx context.Context, id string, offer json.RawMessage) (ContractNegotiation, error) {
	return s.transitionNegotiation(ctx, "negotiation.offer", id, Event{
		Kind: KindContractOffer, Origin: OriginLocal, Payload: offer,
	})
}

func (s *Service) AcceptNegotiation(ctx context.Context, id string) (ContractNegotiation, error) {
	return s.transitionNegotiation(ctx, "negotiation.accept", id, LocalEvent(KindNegotiationAccepted))
}

func (s *Service) AgreeNegotiation(ctx context.Context, id string, agreement json.RawMessage) (ContractNegotiation, error) {
	return s.transitionNegotiation(ctx, "negotiation.agree", id, Event{
		Kind: KindContractAgreement, Origin: OriginLocal, Payload: agreement,
	})
}

func (s *Service) VerifyNegotiation(ctx context.Context, id string) (ContractNegotiation, error) {
	return s.transitionNegotiation(ctx, "negotiation.verify", id, LocalEvent(KindAgreementVerification))
}

func (s *Service) FinalizeNegotiation(ctx context.Context, id string) (ContractNegotiation, error) {
	return s.transitionNegotiation(ctx, "negotiation.finalize", id, LocalEvent(KindNegotiationFinalized))
}

// TerminateNegotiation moves the negotiation to TERMINATING and queues the
// termination message. The record reaches TERMINATED once the message is
// acknowledged or its delivery gives up.
func (s *Service) TerminateNegotiation(ctx context.Context, id string, reason string) (ContractNegotiation, error) {
	return s.transitionNegotiation(ctx, "negotiation.terminate", id, Event{
		Kind: KindNegotiationTermination, Origin: OriginLocal, Reason: reason,
	})
}

func (s *Service) GetNegotiation(ctx context.Context, id string) (ContractNegotiation, error) {
	if err := s.ready(); err != nil {
		return ContractNegotiation{}, err
	}
	record, _, err := s.negotiations.GetForUpdate(ctx, strings.TrimSpace(id))
	if err != nil {
		return ContractNegotiation{}, s.mapError(err)
	}
	return record, nil
}

func (s *Service) transitionNegotiation(ctx context.Context, operation string, id string, ev Event) (record ContractNegotiation, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"process_kind": string(ProcessNegotiation),
		"process_id":   id,
		"message_kind": string(ev.Kind),
	}
	defer func() {
		fields["state"] = string(record.State)
		fields["role"] = string(record.Role)
		s.telemetry.observe(ctx, startedAt, operation, err, fields)
	}()
	if err = s.ready(); err != nil {
		return ContractNegotiation{}, err
	}

	now := s.now()
	result, err := runTransition[ContractNegotiation](ctx, s.negotiations, id, s.config.MaxTransitionAttempts,
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
		return result.Record, s.mapError(err)
	}
	fields["noop"] = !result.Changed
	if result.Changed && result.Record.Pending != nil && ev.Origin == OriginLocal {
		s.enqueueDispatch(ctx, ProcessNegotiation, result.Record.ID)
	}
	return result.Record, nil
}

func (s *Service) newLocalBase(role Role, correlationID, counterpartyID, counterpartyAddress string) (ProcessBase, error) {
	if strings.TrimSpace(s.config.CallbackAddress) == "" {
		return ProcessBase{}, fmt.Errorf("core: callback_address must be configured to initiate processes")
	}
	counterpartyID = strings.TrimSpace(counterpartyID)
	if counterpartyID == "" {
		return ProcessBase{}, malformed("counterparty id is required")
	}
	counterpartyAddress = strings.TrimSpace(counterpartyAddress)
	parsed, err := url.Parse(counterpartyAddress)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return ProcessBase{}, malformed("counterparty address must be an absolute http(s) url")
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	now := s.now()
	return ProcessBase{
		ID:                  uuid.NewString(),
		CorrelationID:       correlationID,
		Role:                role,
		CounterpartyID:      counterpartyID,
		CounterpartyAddress: strings.TrimRight(counterpartyAddress, "/"),
		Protocol:            s.config.Protocol,
		StateTimestamp:      now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

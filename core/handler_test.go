package core

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func mustJSON(t *testing.T, value any) []byte {
	t.Helper()
	raw, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func contractRequest(correlationID string) ProtocolMessage {
	wireType, _ := KindContractRequest.WireType()
	return ProtocolMessage{
		Type:            wireType,
		CorrelationID:   correlationID,
		SenderRole:      RoleConsumer,
		Protocol:        DefaultProtocolVersion,
		ProcessID:       "consumer-local-id",
		CallbackAddress: "https://consumer.example.com/protocol",
		Payload:         json.RawMessage(`{"offerId":"offer-1"}`),
	}
}

func TestHandleMessage_InitiatingMessageCreatesRecord(t *testing.T) {
	ctx := context.Background()
	provider := newTestParticipant(t, "provider", newFakeClock(), &scriptedDispatcher{}, nil)

	outcome, err := provider.svc.HandleMessage(ctx, mustJSON(t, contractRequest("corr-1")), Claims{Subject: "consumer"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Status != http.StatusCreated || !outcome.Created {
		t.Fatalf("expected 201 created, got %d", outcome.Status)
	}
	if outcome.Ack.State != "dspace:REQUESTED" || outcome.Ack.CorrelationID != "corr-1" {
		t.Fatalf("unexpected acknowledgement %#v", outcome.Ack)
	}

	record, err := provider.negotiation.FindByCorrelation(ctx, "corr-1", RoleProvider)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if record.CounterpartyID != "consumer" {
		t.Fatalf("expected caller bound as counterparty, got %q", record.CounterpartyID)
	}
	if record.CounterpartyAddress != "https://consumer.example.com/protocol" {
		t.Fatalf("expected callback address stored, got %q", record.CounterpartyAddress)
	}
	if string(record.Offer) != `{"offerId":"offer-1"}` {
		t.Fatalf("expected offer payload stored, got %s", record.Offer)
	}

	outcome, err = provider.svc.HandleMessage(ctx, mustJSON(t, contractRequest("corr-1")), Claims{Subject: "consumer"})
	if err != nil {
		t.Fatalf("duplicate request: %v", err)
	}
	if outcome.Status != http.StatusOK || !outcome.NoOp {
		t.Fatalf("expected duplicate request to be acknowledged as no-op, got %#v", outcome)
	}
}

func TestHandleMessage_ErrorStatuses(t *testing.T) {
	ctx := context.Background()
	provider := newTestParticipant(t, "provider", newFakeClock(), &scriptedDispatcher{}, nil)
	if _, err := provider.svc.HandleMessage(ctx, mustJSON(t, contractRequest("corr-1")), Claims{Subject: "consumer"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	acceptedType, acceptedEvent := KindNegotiationAccepted.WireType()
	verificationType, _ := KindAgreementVerification.WireType()
	offerType, _ := KindContractOffer.WireType()

	cases := []struct {
		name     string
		body     []byte
		claims   Claims
		status   int
		textCode string
	}{
		{
			name:     "malformed json",
			body:     []byte(`{"@type":`),
			claims:   Claims{Subject: "consumer"},
			status:   http.StatusBadRequest,
			textCode: ErrorMalformedMessage,
		},
		{
			name:     "unknown type",
			body:     mustJSON(t, ProtocolMessage{Type: "dspace:Nope", CorrelationID: "corr-1", SenderRole: RoleConsumer}),
			claims:   Claims{Subject: "consumer"},
			status:   http.StatusBadRequest,
			textCode: ErrorMalformedMessage,
		},
		{
			name:     "sender role not allowed",
			body:     mustJSON(t, ProtocolMessage{Type: offerType, CorrelationID: "corr-1", SenderRole: RoleConsumer}),
			claims:   Claims{Subject: "consumer"},
			status:   http.StatusBadRequest,
			textCode: ErrorMalformedMessage,
		},
		{
			name:     "missing callback",
			body:     mustJSON(t, func() ProtocolMessage { m := contractRequest("corr-2"); m.CallbackAddress = ""; return m }()),
			claims:   Claims{Subject: "consumer"},
			status:   http.StatusBadRequest,
			textCode: ErrorMalformedMessage,
		},
		{
			name:     "unknown process",
			body:     mustJSON(t, ProtocolMessage{Type: acceptedType, EventType: acceptedEvent, CorrelationID: "missing", SenderRole: RoleConsumer}),
			claims:   Claims{Subject: "consumer"},
			status:   http.StatusNotFound,
			textCode: ErrorUnknownProcess,
		},
		{
			name:     "identity mismatch",
			body:     mustJSON(t, ProtocolMessage{Type: acceptedType, EventType: acceptedEvent, CorrelationID: "corr-1", SenderRole: RoleConsumer}),
			claims:   Claims{Subject: "intruder"},
			status:   http.StatusForbidden,
			textCode: ErrorIdentityMismatch,
		},
		{
			name:     "missing subject",
			body:     mustJSON(t, ProtocolMessage{Type: acceptedType, EventType: acceptedEvent, CorrelationID: "corr-1", SenderRole: RoleConsumer}),
			claims:   Claims{},
			status:   http.StatusUnauthorized,
			textCode: ErrorUnauthenticated,
		},
		{
			name:     "invalid transition",
			body:     mustJSON(t, ProtocolMessage{Type: verificationType, CorrelationID: "corr-1", SenderRole: RoleConsumer}),
			claims:   Claims{Subject: "consumer"},
			status:   http.StatusConflict,
			textCode: ErrorInvalidStateTransition,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := provider.svc.HandleMessage(ctx, tc.body, tc.claims)
			assertTextCode(t, err, tc.textCode)
			if got := HTTPStatus(err); got != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, got)
			}
		})
	}

	record, err := provider.negotiation.FindByCorrelation(ctx, "corr-1", RoleProvider)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if record.State != NegotiationRequested || record.Version != 1 {
		t.Fatalf("failed messages must not mutate the record, got state=%s version=%d", record.State, record.Version)
	}
	if _, err := provider.negotiation.FindByCorrelation(ctx, "corr-2", RoleProvider); err == nil {
		t.Fatalf("malformed request must not create a record")
	}
}

func TestHandleMessage_TerminatedProcessConflicts(t *testing.T) {
	ctx := context.Background()
	provider := newTestParticipant(t, "provider", newFakeClock(), &scriptedDispatcher{}, nil)
	if _, err := provider.svc.HandleMessage(ctx, mustJSON(t, contractRequest("corr-1")), Claims{Subject: "consumer"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	terminationType, _ := KindNegotiationTermination.WireType()
	termination := ProtocolMessage{Type: terminationType, CorrelationID: "corr-1", SenderRole: RoleConsumer, Reason: "changed mind"}
	outcome, err := provider.svc.HandleProtocolMessage(ctx, termination, Claims{Subject: "consumer"})
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if outcome.Ack.State != "dspace:TERMINATED" {
		t.Fatalf("expected terminated ack, got %s", outcome.Ack.State)
	}

	acceptedType, acceptedEvent := KindNegotiationAccepted.WireType()
	_, err = provider.svc.HandleProtocolMessage(ctx, ProtocolMessage{
		Type: acceptedType, EventType: acceptedEvent, CorrelationID: "corr-1", SenderRole: RoleConsumer,
	}, Claims{Subject: "consumer"})
	assertTextCode(t, err, ErrorProcessTerminated)
	if HTTPStatus(err) != http.StatusConflict {
		t.Fatalf("expected 409 for terminated process")
	}

	// a retried termination is still a success
	if _, err := provider.svc.HandleProtocolMessage(ctx, termination, Claims{Subject: "consumer"}); err != nil {
		t.Fatalf("expected repeated termination to succeed, got %v", err)
	}
}

func TestHandleMessage_TransferRequestRequiresAgreement(t *testing.T) {
	ctx := context.Background()
	provider := newTestParticipant(t, "provider", newFakeClock(), &scriptedDispatcher{}, nil)
	requestType, _ := KindTransferRequest.WireType()
	msg := ProtocolMessage{
		Type:            requestType,
		CorrelationID:   "tp-1",
		SenderRole:      RoleConsumer,
		CallbackAddress: "https://consumer.example.com/protocol",
	}
	_, err := provider.svc.HandleProtocolMessage(ctx, msg, Claims{Subject: "consumer"})
	assertTextCode(t, err, ErrorMalformedMessage)

	msg.AgreementID = "agr-1"
	outcome, err := provider.svc.HandleProtocolMessage(ctx, msg, Claims{Subject: "consumer"})
	if err != nil {
		t.Fatalf("transfer request: %v", err)
	}
	if outcome.Status != http.StatusCreated || outcome.Ack.Type != "dspace:TransferProcess" {
		t.Fatalf("unexpected outcome %#v", outcome)
	}
	record, err := provider.transfer.FindByCorrelation(ctx, "tp-1", RoleProvider)
	if err != nil || record.AgreementID != "agr-1" {
		t.Fatalf("expected stored agreement id, got %q (%v)", record.AgreementID, err)
	}
}

func TestHandleMessage_UnsupportedProtocolIsMalformed(t *testing.T) {
	ctx := context.Background()
	provider := newTestParticipant(t, "provider", newFakeClock(), &scriptedDispatcher{}, nil)
	msg := contractRequest("corr-9")
	msg.Protocol = "dataspace-protocol-http:1999"
	_, err := provider.svc.HandleProtocolMessage(ctx, msg, Claims{Subject: "consumer"})
	assertTextCode(t, err, ErrorMalformedMessage)
}

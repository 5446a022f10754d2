package query

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/thomasrutger/Connector/core"
)

func newProviderWithNegotiation(t *testing.T) (*core.Service, core.HandleOutcome) {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.ParticipantID = "provider"
	svc, err := core.NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	wireType, _ := core.KindContractRequest.WireType()
	outcome, err := svc.HandleProtocolMessage(context.Background(), core.ProtocolMessage{
		Type:            wireType,
		CorrelationID:   "corr-1",
		SenderRole:      core.RoleConsumer,
		Protocol:        core.DefaultProtocolVersion,
		CallbackAddress: "https://consumer.example.com/protocol",
		Payload:         json.RawMessage(`{"offerId":"offer-1"}`),
	}, core.Claims{Subject: "consumer"})
	if err != nil {
		t.Fatalf("seed negotiation: %v", err)
	}
	return svc, outcome
}

func TestGetNegotiationQuery_QueryDelegates(t *testing.T) {
	svc, outcome := newProviderWithNegotiation(t)

	msg := GetNegotiationMessage{ID: outcome.Ack.ProcessID}
	if err := msg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	record, err := NewGetNegotiationQuery(svc).Query(context.Background(), msg)
	if err != nil {
		t.Fatalf("query negotiation: %v", err)
	}
	if record.CorrelationID != "corr-1" || record.Role != core.RoleProvider {
		t.Fatalf("unexpected negotiation %#v", record)
	}
}

func TestGetTransferQuery_UnknownProcess(t *testing.T) {
	svc, _ := newProviderWithNegotiation(t)
	_, err := NewGetTransferQuery(svc).Query(context.Background(), GetTransferMessage{ID: "missing"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorUnknownProcess {
		t.Fatalf("expected unknown process, got %v", err)
	}
}

func TestDescribeProcessQuery_ChecksCaller(t *testing.T) {
	svc, outcome := newProviderWithNegotiation(t)
	qry := NewDescribeProcessQuery(svc)

	ack, err := qry.Query(context.Background(), DescribeProcessMessage{
		Kind:          core.ProcessNegotiation,
		CorrelationID: "corr-1",
		Claims:        core.Claims{Subject: "consumer"},
	})
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if ack.ProcessID != outcome.Ack.ProcessID {
		t.Fatalf("expected %s, got %s", outcome.Ack.ProcessID, ack.ProcessID)
	}

	_, err = qry.Query(context.Background(), DescribeProcessMessage{
		Kind:          core.ProcessNegotiation,
		CorrelationID: "corr-1",
		Claims:        core.Claims{Subject: "intruder"},
	})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorIdentityMismatch {
		t.Fatalf("expected identity mismatch, got %v", err)
	}
}

func TestDescribeProcessMessage_ValidateReturnsRichError(t *testing.T) {
	err := (DescribeProcessMessage{Kind: core.ProcessTransfer}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorMalformedMessage {
		t.Fatalf("expected %q text code, got %q", core.ErrorMalformedMessage, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
}

func TestQueries_NilReaderReturnsRichError(t *testing.T) {
	var qry *GetNegotiationQuery
	_, err := qry.Query(context.Background(), GetNegotiationMessage{ID: "n-1"})

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}

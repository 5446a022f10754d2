package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/thomasrutger/Connector/core"
)

type staticTokens struct {
	token    string
	err      error
	audience string
}

func (s *staticTokens) Token(_ context.Context, audience string) (string, error) {
	s.audience = audience
	return s.token, s.err
}

type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func offerMessage(correlationID string) core.ProtocolMessage {
	wireType, _ := core.KindContractOffer.WireType()
	return core.ProtocolMessage{
		Type:          wireType,
		CorrelationID: correlationID,
		SenderRole:    core.RoleProvider,
		Protocol:      core.DefaultProtocolVersion,
		Payload:       json.RawMessage(`{"policy":"use-only"}`),
	}
}

func TestHTTPDispatcher_PostsToMessagePathWithBearer(t *testing.T) {
	var (
		gotPath   string
		gotAuth   string
		gotMethod string
		gotBody   core.ProtocolMessage
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tokens := &staticTokens{token: "signed-token"}
	dispatcher := NewHTTPDispatcher(server.Client(), tokens)
	result := dispatcher.Send(context.Background(), server.URL+"/protocol/", offerMessage("corr/1"))

	if result.Outcome != core.DispatchAcknowledged {
		t.Fatalf("expected acknowledgement, got %#v", result)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("expected POST, got %s", gotMethod)
	}
	if gotPath != "/protocol/negotiations/corr/1/offers" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer signed-token" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
	if tokens.audience != server.URL {
		t.Fatalf("expected audience %q, got %q", server.URL, tokens.audience)
	}
	if gotBody.CorrelationID != "corr/1" || gotBody.Type != "dspace:ContractOfferMessage" {
		t.Fatalf("unexpected body %#v", gotBody)
	}
}

func TestHTTPDispatcher_ClassifiesResponses(t *testing.T) {
	cases := []struct {
		status     int
		retryAfter string
		outcome    core.DispatchOutcome
		after      time.Duration
	}{
		{http.StatusOK, "", core.DispatchAcknowledged, 0},
		{http.StatusCreated, "", core.DispatchAcknowledged, 0},
		{http.StatusServiceUnavailable, "", core.DispatchRetryableFailure, 0},
		{http.StatusTooManyRequests, "7", core.DispatchRetryableFailure, 7 * time.Second},
		{http.StatusConflict, "", core.DispatchRetryableFailure, 0},
		{http.StatusBadRequest, "", core.DispatchPermanentFailure, 0},
		{http.StatusForbidden, "", core.DispatchPermanentFailure, 0},
		{http.StatusNotFound, "", core.DispatchPermanentFailure, 0},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if tc.retryAfter != "" {
				w.Header().Set("Retry-After", tc.retryAfter)
			}
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))
		result := NewHTTPDispatcher(server.Client(), nil).Send(context.Background(), server.URL, offerMessage("corr-1"))
		server.Close()

		if result.Outcome != tc.outcome {
			t.Fatalf("status %d: expected %s, got %s", tc.status, tc.outcome, result.Outcome)
		}
		if result.StatusCode != tc.status {
			t.Fatalf("status %d: expected status recorded, got %d", tc.status, result.StatusCode)
		}
		if result.RetryAfter != tc.after {
			t.Fatalf("status %d: expected retry after %s, got %s", tc.status, tc.after, result.RetryAfter)
		}
		if tc.outcome == core.DispatchAcknowledged {
			continue
		}
		var rich *goerrors.Error
		if !goerrors.As(result.Err, &rich) {
			t.Fatalf("status %d: expected go-errors envelope, got %T", tc.status, result.Err)
		}
		wantCode := core.ErrorDispatchRetryable
		if tc.outcome == core.DispatchPermanentFailure {
			wantCode = core.ErrorDispatchPermanent
		}
		if rich.TextCode != wantCode {
			t.Fatalf("status %d: expected %s, got %s", tc.status, wantCode, rich.TextCode)
		}
	}
}

func TestHTTPDispatcher_NetworkErrorIsRetryable(t *testing.T) {
	result := NewHTTPDispatcher(failingDoer{}, nil).Send(context.Background(), "https://peer.example.com", offerMessage("corr-1"))
	if result.Outcome != core.DispatchRetryableFailure {
		t.Fatalf("expected retryable failure, got %s", result.Outcome)
	}
	var rich *goerrors.Error
	if !goerrors.As(result.Err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", result.Err)
	}
	if rich.Category != goerrors.CategoryExternal || rich.TextCode != core.ErrorDispatchRetryable {
		t.Fatalf("unexpected envelope %s/%s", rich.Category, rich.TextCode)
	}
}

func TestHTTPDispatcher_TokenFailureIsRetryable(t *testing.T) {
	tokens := &staticTokens{err: errors.New("token endpoint down")}
	result := NewHTTPDispatcher(failingDoer{}, tokens).Send(context.Background(), "https://peer.example.com", offerMessage("corr-1"))
	if result.Outcome != core.DispatchRetryableFailure {
		t.Fatalf("expected retryable failure, got %s", result.Outcome)
	}
}

func TestHTTPDispatcher_InvalidTargetsArePermanent(t *testing.T) {
	dispatcher := NewHTTPDispatcher(failingDoer{}, nil)
	result := dispatcher.Send(context.Background(), "not a url", offerMessage("corr-1"))
	if result.Outcome != core.DispatchPermanentFailure {
		t.Fatalf("expected permanent failure for bad endpoint, got %s", result.Outcome)
	}

	result = dispatcher.Send(context.Background(), "https://peer.example.com", core.ProtocolMessage{Type: "dspace:Unknown"})
	if result.Outcome != core.DispatchPermanentFailure {
		t.Fatalf("expected permanent failure for unknown type, got %s", result.Outcome)
	}

	var nilDispatcher *HTTPDispatcher
	if got := nilDispatcher.Send(context.Background(), "https://peer.example.com", offerMessage("corr-1")); got.Outcome != core.DispatchPermanentFailure {
		t.Fatalf("expected nil dispatcher to fail permanently")
	}
}

func TestResolveEndpoint_UsesPathPerMessageKind(t *testing.T) {
	requestType, _ := core.KindTransferRequest.WireType()
	target, err := ResolveEndpoint("https://peer.example.com/dsp", core.ProtocolMessage{Type: requestType, CorrelationID: "tp-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if target != "https://peer.example.com/dsp/transfers/request" {
		t.Fatalf("unexpected target %q", target)
	}

	eventType, finalized := core.KindNegotiationFinalized.WireType()
	target, err = ResolveEndpoint("https://peer.example.com", core.ProtocolMessage{Type: eventType, EventType: finalized, CorrelationID: "n-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasSuffix(target, "/negotiations/n-1/events") {
		t.Fatalf("unexpected target %q", target)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := ParseRetryAfter("30", now); got != 30*time.Second {
		t.Fatalf("expected 30s, got %s", got)
	}
	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	if got := ParseRetryAfter(date, now); got != 90*time.Second {
		t.Fatalf("expected 90s from http date, got %s", got)
	}
	for _, value := range []string{"", "-1", "later", now.Add(-time.Minute).Format(http.TimeFormat)} {
		if got := ParseRetryAfter(value, now); got != 0 {
			t.Fatalf("expected zero for %q, got %s", value, got)
		}
	}
}

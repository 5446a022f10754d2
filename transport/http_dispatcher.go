package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/thomasrutger/Connector/core"
)

const defaultClientTimeout = 30 * time.Second
const defaultResponseBodyLimit int64 = 1 << 20 // 1 MiB
const errorBodySnippet = 256

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPDispatcher posts protocol messages to the counterparty endpoint that
// matches the message type and classifies the response.
type HTTPDispatcher struct {
	Client               HTTPDoer
	Tokens               core.TokenSource
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	Now                  func() time.Time
}

func NewHTTPDispatcher(client HTTPDoer, tokens core.TokenSource) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &HTTPDispatcher{
		Client:               client,
		Tokens:               tokens,
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (d *HTTPDispatcher) Send(ctx context.Context, endpoint string, msg core.ProtocolMessage) core.DispatchResult {
	if d == nil || d.Client == nil {
		return permanent(0, transportError(
			"transport: http dispatcher requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := ResolveEndpoint(endpoint, msg)
	if err != nil {
		return permanent(0, err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return permanent(0, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: encode protocol message",
			http.StatusBadRequest,
			map[string]any{"message_type": msg.Type},
		))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return permanent(0, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"url": target},
		))
	}
	for key, value := range d.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	if d.Tokens != nil {
		token, tokenErr := d.Tokens.Token(ctx, Audience(endpoint))
		if tokenErr != nil {
			// the token endpoint may recover before the retry budget runs out
			return retryable(0, 0, transportWrapError(
				fmt.Errorf("%w: %v", core.ErrRetryableFailure, tokenErr),
				goerrors.CategoryExternal,
				"transport: obtain outbound token",
				http.StatusBadGateway,
				map[string]any{"audience": Audience(endpoint)},
			))
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpRes, err := d.Client.Do(httpReq)
	if err != nil {
		return retryable(0, 0, transportWrapError(
			fmt.Errorf("%w: %v", core.ErrRetryableFailure, err),
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"url": target, "message_type": msg.Type},
		))
	}
	defer httpRes.Body.Close()

	limit := d.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	responseBody, readErr := io.ReadAll(io.LimitReader(httpRes.Body, limit))
	if readErr != nil && httpRes.StatusCode >= 200 && httpRes.StatusCode < 300 {
		// the counterparty answered 2xx; a truncated body does not undo that
		responseBody = nil
	}

	now := time.Now().UTC()
	if d.Now != nil {
		now = d.Now()
	}
	return Classify(httpRes.StatusCode, httpRes.Header, responseBody, target, now)
}

// ResolveEndpoint joins the counterparty base address with the path of the
// message type.
func ResolveEndpoint(endpoint string, msg core.ProtocolMessage) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", transportError(
			"transport: counterparty address must be an absolute http(s) url",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"endpoint": endpoint},
		)
	}
	kind, ok := msg.Kind()
	if !ok {
		return "", transportError(
			fmt.Sprintf("transport: unknown message type %q", msg.Type),
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"message_type": msg.Type},
		)
	}
	path, err := kind.Path(msg.CorrelationID)
	if err != nil {
		return "", transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: resolve message path",
			http.StatusBadRequest,
			map[string]any{"message_type": msg.Type},
		)
	}
	return base + path, nil
}

// Audience is the token audience used for a counterparty base address.
func Audience(endpoint string) string {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || parsed.Host == "" {
		return strings.TrimSpace(endpoint)
	}
	return parsed.Scheme + "://" + parsed.Host
}

func permanent(status int, err error) core.DispatchResult {
	return core.DispatchResult{Outcome: core.DispatchPermanentFailure, StatusCode: status, Err: err}
}

func retryable(status int, after time.Duration, err error) core.DispatchResult {
	return core.DispatchResult{Outcome: core.DispatchRetryableFailure, StatusCode: status, RetryAfter: after, Err: err}
}

var _ core.Dispatcher = (*HTTPDispatcher)(nil)

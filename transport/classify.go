package transport

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/thomasrutger/Connector/core"
)

// Classify maps a counterparty response to a dispatch outcome. 2xx is an
// acknowledgement, statuses accepted by RetryableStatus are retried and
// anything else is final.
func Classify(status int, header http.Header, body []byte, target string, now time.Time) core.DispatchResult {
	if status >= 200 && status < 300 {
		return core.DispatchResult{Outcome: core.DispatchAcknowledged, StatusCode: status}
	}
	metadata := map[string]any{"url": target, "status_code": status}
	if snippet := bodySnippet(body); snippet != "" {
		metadata["response"] = snippet
	}

	if RetryableStatus(status) {
		after := ParseRetryAfter(header.Get("Retry-After"), now)
		if after > 0 {
			metadata["retry_after_ms"] = after.Milliseconds()
		}
		category := goerrors.CategoryExternal
		if status == http.StatusTooManyRequests {
			category = goerrors.CategoryRateLimit
		}
		return retryable(status, after, transportWrapError(
			fmt.Errorf("%w: status %d", core.ErrRetryableFailure, status),
			category,
			"transport: counterparty asked to retry",
			http.StatusBadGateway,
			metadata,
		))
	}
	return permanent(status, transportWrapError(
		fmt.Errorf("%w: status %d", core.ErrPermanentFailure, status),
		goerrors.CategoryOperation,
		"transport: counterparty rejected message",
		http.StatusBadGateway,
		metadata,
	))
}

func RetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// ParseRetryAfter accepts delta seconds or an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0
	}
	if delay := at.Sub(now); delay > 0 {
		return delay
	}
	return 0
}

func bodySnippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > errorBodySnippet {
		text = text[:errorBodySnippet]
	}
	return text
}

package core

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestMapError_AssignsStableCodes(t *testing.T) {
	cases := []struct {
		err      error
		textCode string
		status   int
		category goerrors.Category
	}{
		{malformed("bad body"), ErrorMalformedMessage, http.StatusBadRequest, goerrors.CategoryBadInput},
		{fmt.Errorf("%w: no token", ErrUnauthenticated), ErrorUnauthenticated, http.StatusUnauthorized, goerrors.CategoryAuth},
		{fmt.Errorf("%w: caller", ErrIdentityMismatch), ErrorIdentityMismatch, http.StatusForbidden, goerrors.CategoryAuthz},
		{fmt.Errorf("%w: neg-1", ErrUnknownProcess), ErrorUnknownProcess, http.StatusNotFound, goerrors.CategoryNotFound},
		{invalidTransition("nope"), ErrorInvalidStateTransition, http.StatusConflict, goerrors.CategoryConflict},
		{terminated("FINALIZED"), ErrorProcessTerminated, http.StatusConflict, goerrors.CategoryConflict},
		{fmt.Errorf("%w: duplicate", ErrStoreConflict), ErrorStoreConflict, http.StatusConflict, goerrors.CategoryConflict},
		{ErrRetryableFailure, ErrorDispatchRetryable, http.StatusBadGateway, goerrors.CategoryExternal},
		{ErrPermanentFailure, ErrorDispatchPermanent, http.StatusBadGateway, goerrors.CategoryExternal},
	}
	for _, tc := range cases {
		mapped := MapError(tc.err)
		if mapped.TextCode != tc.textCode {
			t.Fatalf("%v: expected text code %s, got %s", tc.err, tc.textCode, mapped.TextCode)
		}
		if mapped.Code != tc.status || HTTPStatus(tc.err) != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, mapped.Code)
		}
		if mapped.Category != tc.category {
			t.Fatalf("%v: expected category %s, got %s", tc.err, tc.category, mapped.Category)
		}
	}
}

func TestMapError_KeepsRichErrorsAndDefaultsUnknown(t *testing.T) {
	rich := goerrors.New("rate limited", goerrors.CategoryRateLimit)
	mapped := MapError(rich)
	if mapped != rich {
		t.Fatalf("expected rich error to pass through")
	}
	if mapped.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit status, got %d", mapped.Code)
	}

	mapped = MapError(stderrors.New("boom"))
	if mapped.TextCode == "" || mapped.Code == 0 {
		t.Fatalf("expected unknown errors to get a full envelope, got %#v", mapped)
	}
	if MapError(nil) != nil || HTTPStatus(nil) != http.StatusOK {
		t.Fatalf("nil errors must map to nothing")
	}
}

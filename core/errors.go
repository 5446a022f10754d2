package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

var (
	ErrMalformedMessage       = errors.New("core: malformed message")
	ErrUnauthenticated        = errors.New("core: unauthenticated")
	ErrIdentityMismatch       = errors.New("core: identity mismatch")
	ErrUnknownProcess         = errors.New("core: unknown process")
	ErrInvalidStateTransition = errors.New("core: invalid state transition")
	ErrProcessTerminated      = errors.New("core: process terminated")
	ErrStoreConflict          = errors.New("core: store conflict")
	ErrTransitionContention   = errors.New("core: transition attempts exhausted")
	ErrRetryableFailure       = errors.New("core: retryable dispatch failure")
	ErrPermanentFailure       = errors.New("core: permanent dispatch failure")
)

const (
	ErrorMalformedMessage       = "MALFORMED_MESSAGE"
	ErrorUnauthenticated        = "UNAUTHENTICATED"
	ErrorIdentityMismatch       = "IDENTITY_MISMATCH"
	ErrorUnknownProcess         = "UNKNOWN_PROCESS"
	ErrorInvalidStateTransition = "INVALID_STATE_TRANSITION"
	ErrorProcessTerminated      = "PROCESS_TERMINATED"
	ErrorStoreConflict          = "STORE_CONFLICT"
	ErrorDispatchRetryable      = "DISPATCH_RETRYABLE"
	ErrorDispatchPermanent      = "DISPATCH_PERMANENT"
	ErrorInternal               = "INTERNAL_ERROR"
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

func invalidTransition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidStateTransition, fmt.Sprintf(format, args...))
}

func terminated(state string) error {
	return fmt.Errorf("%w: record is %s", ErrProcessTerminated, state)
}

// MapError converts any error into the protocol error envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrMalformedMessage):
		return newProtocolError(err, goerrors.CategoryBadInput, ErrorMalformedMessage)
	case errors.Is(err, ErrUnauthenticated):
		return newProtocolError(err, goerrors.CategoryAuth, ErrorUnauthenticated)
	case errors.Is(err, ErrIdentityMismatch):
		return newProtocolError(err, goerrors.CategoryAuthz, ErrorIdentityMismatch)
	case errors.Is(err, ErrUnknownProcess):
		return newProtocolError(err, goerrors.CategoryNotFound, ErrorUnknownProcess)
	case errors.Is(err, ErrInvalidStateTransition):
		return newProtocolError(err, goerrors.CategoryConflict, ErrorInvalidStateTransition)
	case errors.Is(err, ErrProcessTerminated):
		return newProtocolError(err, goerrors.CategoryConflict, ErrorProcessTerminated)
	case errors.Is(err, ErrStoreConflict):
		return newProtocolError(err, goerrors.CategoryConflict, ErrorStoreConflict)
	case errors.Is(err, ErrRetryableFailure):
		return newProtocolError(err, goerrors.CategoryExternal, ErrorDispatchRetryable)
	case errors.Is(err, ErrPermanentFailure):
		return newProtocolError(err, goerrors.CategoryExternal, ErrorDispatchPermanent)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

// HTTPStatus returns the status code an inbound caller sees for err.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	mapped := MapError(err)
	if mapped == nil || mapped.Code == 0 {
		return http.StatusInternalServerError
	}
	return mapped.Code
}

func newProtocolError(err error, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.Wrap(err, category, err.Error()).
			WithCode(categoryHTTPStatus(category)).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = categoryHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorMalformedMessage
	case goerrors.CategoryNotFound:
		return ErrorUnknownProcess
	case goerrors.CategoryAuth:
		return ErrorUnauthenticated
	case goerrors.CategoryAuthz:
		return ErrorIdentityMismatch
	case goerrors.CategoryConflict:
		return ErrorInvalidStateTransition
	default:
		return ErrorInternal
	}
}

func categoryHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

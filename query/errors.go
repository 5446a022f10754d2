package query

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/thomasrutger/Connector/core"
)

func queryDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}

func queryValidationError(field string, message string) error {
	return goerrors.NewValidation("query: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorMalformedMessage).
		WithSeverity(goerrors.SeverityError)
}

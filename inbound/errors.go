package inbound

import (
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/thomasrutger/Connector/core"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code     int    `json:"code"`
	TextCode string `json:"text_code"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
}

func inboundError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func inboundWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return inboundError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func inboundMalformed(message string, metadata map[string]any) error {
	return inboundError(
		message,
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.ErrorMalformedMessage,
		metadata,
	)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders err in the protocol error envelope and returns the
// status written.
func writeError(w http.ResponseWriter, err error) int {
	mapped := core.MapError(err)
	if mapped == nil {
		mapped = core.MapError(inboundError("inbound: unknown failure", goerrors.CategoryInternal, http.StatusInternalServerError, core.ErrorInternal, nil))
	}
	status := mapped.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:     status,
		TextCode: mapped.TextCode,
		Category: string(mapped.Category),
		Message:  mapped.Message,
	}})
	return status
}

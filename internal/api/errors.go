package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/stargazer/internal/astro"
	"github.com/ashureev/stargazer/internal/conversation"
	"github.com/ashureev/stargazer/internal/llm"
)

// Error codes returned to clients.
const (
	CodeInvalidDateFormat     = "invalid_date_format"
	CodeEmptyQuestion         = "empty_question"
	CodeNoPrediction          = "no_prediction"
	CodeReadingExists         = "reading_exists"
	CodeSessionBusy           = "session_busy"
	CodeUnresolvedZodiac      = "unresolved_zodiac"
	CodeGenerationTimeout     = "generation_timeout"
	CodeGenerationUnavailable = "generation_unavailable"
	CodeRateLimited           = "rate_limited"
	CodeBadRequest            = "bad_request"
	CodeNotFound              = "not_found"
	CodeRequestCanceled       = "request_canceled"
	CodeInternal              = "internal_error"
)

var errorTable = []struct {
	err    error
	status int
	code   string
	msg    string
}{
	{context.Canceled, http.StatusRequestTimeout, CodeRequestCanceled, "request canceled"},
	{astro.ErrInvalidDateFormat, http.StatusBadRequest, CodeInvalidDateFormat, "date of birth must be DD-MM-YYYY"},
	{conversation.ErrEmptyQuestion, http.StatusBadRequest, CodeEmptyQuestion, "question must not be empty"},
	{conversation.ErrNoPrediction, http.StatusConflict, CodeNoPrediction, "start a reading before asking questions"},
	{conversation.ErrReadingExists, http.StatusConflict, CodeReadingExists, "this session already has a reading"},
	{conversation.ErrSessionBusy, http.StatusConflict, CodeSessionBusy, "another request for this session is in progress"},
	{astro.ErrUnresolvedZodiac, http.StatusUnprocessableEntity, CodeUnresolvedZodiac, "no zodiac sign matches this date"},
	{llm.ErrGenerationTimeout, http.StatusGatewayTimeout, CodeGenerationTimeout, "the stars took too long to answer, try again"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, CodeGenerationTimeout, "the stars took too long to answer, try again"},
	{llm.ErrGenerationUnavailable, http.StatusBadGateway, CodeGenerationUnavailable, "the stars are unavailable right now, try again"},
}

// ErrorCode maps a service error to its HTTP status, client code and message.
func ErrorCode(err error) (status int, code, message string) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code, e.msg
		}
	}
	return http.StatusInternalServerError, CodeInternal, "internal error"
}

// writeServiceError writes err as a JSON error body.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := ErrorCode(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "code", code, "error", err)
	} else {
		slog.Info("request rejected", "path", r.URL.Path, "code", code, "error", err)
	}
	Error(w, status, code, message)
}

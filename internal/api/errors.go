package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/transfa/agentpay-service/internal/app"
)

// Machine-readable error codes returned in the "code" field.
const (
	codeValidationFailed     = "VALIDATION_FAILED"
	codeNotFound             = "NOT_FOUND"
	codeUnauthenticated      = "UNAUTHENTICATED"
	codeInvalidSession       = "INVALID_SESSION"
	codeForbidden            = "FORBIDDEN"
	codeGatewayDeclined      = "GATEWAY_DECLINED"
	codeGatewayUnavailable   = "GATEWAY_UNAVAILABLE"
	codeDuplicateSubmission  = "DUPLICATE_SUBMISSION"
	codeIdempotencyKeyReused = "IDEMPOTENCY_KEY_REUSED"
	codeRateLimited          = "RATE_LIMITED"
	codeInternal             = "INTERNAL"
)

const internalErrorMessage = "Internal server error"

type errorResponse struct {
	Error  string           `json:"error"`
	Code   string           `json:"code"`
	Fields []app.FieldError `json:"fields,omitempty"`
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeAppError maps service errors onto status codes. Unknown errors are logged and
// reported generically so no internals reach the client.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *app.ValidationError
	var declined *app.GatewayDeclinedError
	var limited *app.RateLimitError

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Error(), Code: codeValidationFailed, Fields: validation.Fields})
	case errors.Is(err, app.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, codeValidationFailed, app.ErrEmailTaken.Error())
	case errors.Is(err, app.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, app.ErrAgentNotFound.Error())
	case errors.Is(err, app.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, app.ErrAccountNotFound.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, app.ErrInvalidCredentials.Error())
	case errors.Is(err, app.ErrSessionInvalid):
		writeError(w, http.StatusUnauthorized, codeInvalidSession, app.ErrSessionInvalid.Error())
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, app.ErrUnauthenticated.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, err.Error())
	case errors.As(err, &declined):
		writeError(w, http.StatusBadRequest, codeGatewayDeclined, declined.Error())
	case errors.Is(err, app.ErrGatewayUnavailable):
		writeError(w, http.StatusBadGateway, codeGatewayUnavailable, "Payment gateway unavailable, please try again")
	case errors.Is(err, app.ErrDuplicateSubmission):
		writeError(w, http.StatusConflict, codeDuplicateSubmission, app.ErrDuplicateSubmission.Error())
	case errors.Is(err, app.ErrIdempotencyKeyReused):
		writeError(w, http.StatusUnprocessableEntity, codeIdempotencyKeyReused, app.ErrIdempotencyKeyReused.Error())
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, codeRateLimited, app.ErrRateLimited.Error())
	case errors.Is(err, app.ErrPaymentNotRecorded):
		writeError(w, http.StatusInternalServerError, codeInternal, app.ErrPaymentNotRecorded.Error())
	default:
		log.Printf("level=error component=api msg=\"unhandled error\" method=%s path=%s err=%v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, codeInternal, internalErrorMessage)
	}
}

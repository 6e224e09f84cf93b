package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/transfa/agentpay-service/internal/domain"
	"github.com/transfa/agentpay-service/pkg/gatewayclient"
)

var (
	// ErrUnauthenticated covers a missing, malformed, forged or expired token.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrSessionInvalid means the token was well formed but is no longer the
	// account's current session.
	ErrSessionInvalid = errors.New("session expired or replaced")
	// ErrForbidden is matched by every *ForbiddenError.
	ErrForbidden = errors.New("forbidden")

	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrAgentNotFound      = errors.New("agent not found")

	ErrGatewayUnavailable   = gatewayclient.ErrGatewayUnavailable
	ErrDuplicateSubmission  = errors.New("a payment with this idempotency key is already in progress or its outcome is unknown")
	ErrIdempotencyKeyReused = errors.New("idempotency key was already used for a different payment")
	ErrPaymentNotRecorded   = errors.New("payment was approved but could not be recorded")
	ErrRateLimited          = errors.New("too many requests")
)

// Validation failure reasons, in evaluation order.
const (
	ReasonMissingField      = "missing_field"
	ReasonInvalidPhone      = "invalid_phone"
	ReasonNonPositiveAmount = "non_positive_amount"
	ReasonAmountTooLarge    = "amount_too_large"
	ReasonInvalidValue      = "invalid_value"
)

// FieldError is one field-level validation failure.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError carries every field error found for a request.
type ValidationError struct {
	Reason string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Reason == e.Reason {
			names = append(names, f.Field)
		}
	}
	msg := strings.ReplaceAll(e.Reason, "_", " ")
	if len(names) == 0 {
		return "validation failed: " + msg
	}
	return fmt.Sprintf("validation failed: %s (%s)", msg, strings.Join(names, ", "))
}

// newValidationError reports the first failing stage of a sorted field error list.
func newValidationError(fields []FieldError) *ValidationError {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Reason: fields[0].Reason, Fields: fields}
}

// ForbiddenError names the principal's role and the resource it was denied.
type ForbiddenError struct {
	Role     domain.Role
	Resource string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("role %q is not allowed to access %s", e.Role, e.Resource)
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// GatewayDeclinedError is a business rejection from the gateway, surfaced verbatim.
type GatewayDeclinedError struct {
	Code    string
	Message string
}

func (e *GatewayDeclinedError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("payment declined by gateway (code %s)", e.Code)
	}
	return e.Message
}

// RateLimitError tells the caller when it may try again.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry after %d seconds", ErrRateLimited.Error(), e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

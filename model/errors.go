package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest    = "BAD_REQUEST"
	ErrUnauthorized  = "UNAUTHORIZED"
	ErrForbidden     = "FORBIDDEN"
	ErrNotFound      = "NOT_FOUND"
	ErrConflict      = "CONFLICT"
	ErrInternalError = "INTERNAL_ERROR"
)

// Workflow-specific error codes. Each precondition violation has its own
// code so callers can act on the specific failure rather than a generic
// message.
const (
	ErrConfigurationNotFound  = "CONFIGURATION_NOT_FOUND"
	ErrInvalidConfiguration   = "INVALID_CONFIGURATION"
	ErrInstanceTerminal       = "INSTANCE_TERMINAL"
	ErrInstanceEscalated      = "INSTANCE_ESCALATED"
	ErrUnknownStep            = "UNKNOWN_STEP"
	ErrStepNotReady           = "STEP_NOT_READY"
	ErrPermissionDenied       = "PERMISSION_DENIED"
	ErrWitnessRequired        = "WITNESS_REQUIRED"
	ErrWitnessNotAllowed      = "WITNESS_NOT_ALLOWED"
	ErrConcurrentModification = "CONCURRENT_MODIFICATION"
	ErrSigningFailed          = "SIGNING_FAILED"
	ErrStoreUnavailable       = "STORE_UNAVAILABLE"
)

// ErrorEnvelope is the standard error shape returned by the service.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the envelope code of err, or INTERNAL_ERROR for any other
// error type.
func CodeOf(err error) string {
	if env, ok := err.(*ErrorEnvelope); ok {
		return env.Code
	}
	return ErrInternalError
}

// IsCode reports whether err is an ErrorEnvelope with the given code.
func IsCode(err error, code string) bool {
	env, ok := err.(*ErrorEnvelope)
	return ok && env.Code == code
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewConfigurationNotFoundError returns a CONFIGURATION_NOT_FOUND error.
func NewConfigurationNotFoundError(workflowID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrConfigurationNotFound,
		Message: fmt.Sprintf("workflow configuration %q not found", workflowID),
	}
}

// NewInvalidConfigurationError returns an INVALID_CONFIGURATION error.
func NewInvalidConfigurationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidConfiguration, Message: msg}
}

// NewInstanceTerminalError returns an INSTANCE_TERMINAL error.
func NewInstanceTerminalError(instanceID, status string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInstanceTerminal,
		Message: fmt.Sprintf("workflow instance %q is %s and accepts no further actions", instanceID, status),
	}
}

// NewInstanceEscalatedError returns an INSTANCE_ESCALATED error. Raised
// only when the configuration hard-stops on escalation.
func NewInstanceEscalatedError(instanceID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInstanceEscalated,
		Message: fmt.Sprintf("workflow instance %q is escalated and requires manual resolution", instanceID),
	}
}

// NewUnknownStepError returns an UNKNOWN_STEP error.
func NewUnknownStepError(stepID, workflowID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUnknownStep,
		Message: fmt.Sprintf("step %q does not exist in workflow %q", stepID, workflowID),
	}
}

// NewStepNotReadyError returns a STEP_NOT_READY error. It covers both
// not-yet-reachable steps and duplicate completion attempts.
func NewStepNotReadyError(stepID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrStepNotReady,
		Message: fmt.Sprintf("step %q is not currently eligible for completion", stepID),
	}
}

// NewPermissionDeniedError returns a PERMISSION_DENIED error.
func NewPermissionDeniedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrPermissionDenied, Message: msg}
}

// NewWitnessRequiredError returns a WITNESS_REQUIRED error.
func NewWitnessRequiredError(stepID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrWitnessRequired,
		Message: fmt.Sprintf("step %q requires a witness signature", stepID),
	}
}

// NewWitnessNotAllowedError returns a WITNESS_NOT_ALLOWED error.
func NewWitnessNotAllowedError(stepID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrWitnessNotAllowed,
		Message: fmt.Sprintf("step %q does not accept a witness signature", stepID),
	}
}

// NewConcurrentModificationError returns a CONCURRENT_MODIFICATION error.
// Transient; the caller should re-read instance state and retry.
func NewConcurrentModificationError(instanceID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrConcurrentModification,
		Message: fmt.Sprintf("workflow instance %q was modified concurrently", instanceID),
	}
}

// NewSigningFailedError returns a SIGNING_FAILED error wrapping the adapter
// failure.
func NewSigningFailedError(cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSigningFailed,
		Message: fmt.Sprintf("signature request failed: %v", cause),
	}
}

// NewStoreUnavailableError returns a STORE_UNAVAILABLE error wrapping the
// persistence failure.
func NewStoreUnavailableError(cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrStoreUnavailable,
		Message: fmt.Sprintf("instance store unavailable: %v", cause),
	}
}

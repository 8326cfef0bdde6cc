package fieldform

import (
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypePersistence ErrorType = "persistence"
	ErrorTypeRemote      ErrorType = "remote"
	ErrorTypeSchema      ErrorType = "schema"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeInternal    ErrorType = "internal"
)

// Error codes used across the engine
const (
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeRequiredField      = "REQUIRED_FIELD_MISSING"
	ErrCodeOutOfRange         = "VALUE_OUT_OF_RANGE"
	ErrCodeInvalidFormat      = "INVALID_FORMAT"
	ErrCodeUnknownFieldKind   = "UNKNOWN_FIELD_KIND"
	ErrCodeSchemaInvalid      = "SCHEMA_INVALID"
	ErrCodeDuplicateID        = "DUPLICATE_ID"
	ErrCodeRecordNotFound     = "RECORD_NOT_FOUND"
	ErrCodeSerializeFailed    = "SERIALIZE_FAILED"
	ErrCodeDeserializeFailed  = "DESERIALIZE_FAILED"
	ErrCodeTransactionFailed  = "TRANSACTION_FAILED"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeRemoteRejected     = "REMOTE_REJECTED"
	ErrCodeRemoteUnavailable  = "REMOTE_UNAVAILABLE"
	ErrCodeRemoteMalformed    = "REMOTE_MALFORMED_RESPONSE"
	ErrCodeRemoteTimeout      = "REMOTE_TIMEOUT"
	ErrCodeSyncInFlight       = "SYNC_IN_FLIGHT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// Error is the unified error type of the fieldform engine.
type Error struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Record  string         `json:"record,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e.Record != "":
		return fmt.Sprintf("[%s:%s] record %s: %s", e.Type, e.Code, e.Record, e.Message)
	case e.Field != "":
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Type, e.Code, e.Field, e.Message)
	default:
		return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause adds a cause to an Error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithField adds field context to an Error
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithRecord adds record context to an Error
func (e *Error) WithRecord(id string) *Error {
	e.Record = id
	return e
}

// WithDetail adds a single detail to an Error
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewError creates a new Error
func NewError(errorType ErrorType, code, message string) *Error {
	return &Error{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

// NewValidationError creates a field-scoped validation error
func NewValidationError(field, message string) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeValidationFailed,
		Message: message,
		Field:   field,
	}
}

// NewSchemaError creates a form-config schema error
func NewSchemaError(code, message string) *Error {
	return &Error{
		Type:    ErrorTypeSchema,
		Code:    code,
		Message: message,
	}
}

// NewPersistenceError wraps a local storage failure
func NewPersistenceError(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypePersistence,
		Code:    ErrCodeStorageUnavailable,
		Message: message,
		Cause:   cause,
	}
}

// NewTransactionError wraps a failed scoped write
func NewTransactionError(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypePersistence,
		Code:    ErrCodeTransactionFailed,
		Message: message,
		Cause:   cause,
	}
}

// NewRemoteError wraps a remote push/pull failure. Status is the HTTP status
// when one was received, 0 for transport failures.
func NewRemoteError(status int, message string, cause error) *Error {
	code := ErrCodeRemoteUnavailable
	if status >= 400 {
		code = ErrCodeRemoteRejected
	}
	e := &Error{
		Type:    ErrorTypeRemote,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
	if status != 0 {
		e.WithDetail("status", status)
	}
	return e
}

// NewRemoteTimeoutError marks a remote call that exceeded its deadline.
func NewRemoteTimeoutError(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeTimeout,
		Code:    ErrCodeRemoteTimeout,
		Message: message,
		Cause:   cause,
	}
}

// NewNotFoundError creates a record not found error
func NewNotFoundError(table, id string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeRecordNotFound,
		Message: fmt.Sprintf("%s record not found", table),
		Record:  id,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrorTypeValidation
	}
	return false
}

// IsPersistenceError checks if an error is a local storage error
func IsPersistenceError(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrorTypePersistence
	}
	return false
}

// IsRemoteError checks if an error is a remote error
func IsRemoteError(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrorTypeRemote
	}
	return false
}

// IsSchemaError checks if an error is a form-config schema error
func IsSchemaError(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrorTypeSchema
	}
	return false
}

// IsNotFoundError checks if an error is a record not found error
func IsNotFoundError(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == ErrCodeRecordNotFound
	}
	return false
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrorTypeTimeout
	}
	return false
}

// ============================================================================
// Field-level validation errors
// ============================================================================

// FieldError is a single field's validation failure, shown inline in the UI.
type FieldError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// FormErrors maps field id to its validation failure. It never propagates
// past the runtime boundary as a Go error; callers inspect it directly.
type FormErrors map[string]FieldError

// HasErrors returns true if any field failed validation
func (fe FormErrors) HasErrors() bool {
	return len(fe) > 0
}

// First returns an arbitrary-but-stable failing field id for single-message
// surfaces. Empty string when there are no errors.
func (fe FormErrors) First() string {
	first := ""
	for id := range fe {
		if first == "" || id < first {
			first = id
		}
	}
	return first
}

// Merge copies the entries of other into fe, keeping existing entries on
// conflict so the earliest reported failure wins.
func (fe FormErrors) Merge(other FormErrors) {
	for id, err := range other {
		if _, ok := fe[id]; !ok {
			fe[id] = err
		}
	}
}

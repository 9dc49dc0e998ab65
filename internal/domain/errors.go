package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeTooLarge         = "TOO_LARGE"
)

// Validation errors
var (
	ErrInvalidSourceKind    = NewDomainError(ErrCodeValidation, "invalid source kind")
	ErrInvalidItemStatus    = NewDomainError(ErrCodeValidation, "invalid item status")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrItemNotFound  = NewDomainError(ErrCodeNotFound, "knowledge item not found")
	ErrChunkNotFound = NewDomainError(ErrCodeNotFound, "chunk not found")
)

// Operation errors
var (
	ErrItemTerminal         = NewDomainError(ErrCodeInvalidOperation, "item already reached a terminal status")
	ErrStorageNotConfigured = NewDomainError(ErrCodeInternalError, "object storage not configured")
)

// Ingestion pass failure reasons. These are the short machine-usable
// strings recorded on a FAILED item.
const (
	ReasonWebTimeout       = "web_ingest_timeout"
	ReasonAudioTimeout     = "audio_ingest_timeout"
	ReasonDocumentTimeout  = "document_ingest_timeout"
	ReasonAudioTooLarge    = "audio_file_too_large_max_25mb"
	ReasonDocumentTooLarge = "document_file_too_large_max_25mb"
	ReasonAudioMissing     = "audio_file_missing"
	ReasonDocumentMissing  = "document_file_missing"
	ReasonEmptyTranscript  = "empty_transcript"
)

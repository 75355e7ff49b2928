// Package errors provides structured error types for the versioning service.
// Every error carries a category, code, message and retryable flag so that
// transports can map failures consistently.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by failure kind.
type ErrorCategory string

const (
	ErrCategoryNotFound   ErrorCategory = "NOT_FOUND"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryIntegrity  ErrorCategory = "INTEGRITY"
	ErrCategoryIngestion  ErrorCategory = "INGESTION"
	ErrCategoryConflict   ErrorCategory = "CONFLICT"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryCache      ErrorCategory = "CACHE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Not-found codes
	CodeDatasetNotFound = "DATASET_NOT_FOUND"
	CodeVersionNotFound = "VERSION_NOT_FOUND"

	// Validation codes
	CodeInvalidSchema     = "INVALID_SCHEMA"
	CodeUnknownColumns    = "UNKNOWN_COLUMNS"
	CodeInvalidChangeType = "INVALID_CHANGE_TYPE"
	CodeInvalidBatchSize  = "INVALID_BATCH_SIZE"
	CodeEmptyBatch        = "EMPTY_BATCH"
	CodeInvalidArgument   = "INVALID_ARGUMENT"

	// Integrity codes
	CodeMalformedPayload = "MALFORMED_PAYLOAD"

	// Ingestion codes
	CodeBulkInsertFailed = "BULK_INSERT_FAILED"

	// Conflict codes
	CodeVersionConflict = "VERSION_CONFLICT"

	// Storage codes
	CodeWriteFailed    = "WRITE_FAILED"
	CodeReadFailed     = "READ_FAILED"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Cache codes
	CodeCacheUnavailable = "CACHE_UNAVAILABLE"
	CodeCacheCorrupt     = "CACHE_CORRUPT"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// VersionError is the structured error type used throughout the system.
type VersionError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *VersionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *VersionError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
// A target with an empty code matches any error of the same category.
func (e *VersionError) Is(target error) bool {
	var t *VersionError
	if errors.As(target, &t) {
		return e.Category == t.Category && (t.Code == "" || e.Code == t.Code)
	}
	return false
}

// New creates a new VersionError.
func New(category ErrorCategory, code, message string) *VersionError {
	return &VersionError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new VersionError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *VersionError {
	return &VersionError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *VersionError) WithDetails(details map[string]interface{}) *VersionError {
	cp := *e
	cp.Details = details
	return &cp
}

// Category sentinels for errors.Is checks, e.g. errors.Is(err, ErrNotFound).
var (
	ErrNotFound   = &VersionError{Category: ErrCategoryNotFound}
	ErrValidation = &VersionError{Category: ErrCategoryValidation}
	ErrIntegrity  = &VersionError{Category: ErrCategoryIntegrity}
	ErrIngestion  = &VersionError{Category: ErrCategoryIngestion}
	ErrConflict   = &VersionError{Category: ErrCategoryConflict}
)

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ve *VersionError
	if errors.As(err, &ve) {
		return ve.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a VersionError.
func GetCategory(err error) ErrorCategory {
	var ve *VersionError
	if errors.As(err, &ve) {
		return ve.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a VersionError.
func GetCode(err error) string {
	var ve *VersionError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// GetDetails extracts details from the first VersionError in the chain.
func GetDetails(err error) map[string]interface{} {
	var ve *VersionError
	if errors.As(err, &ve) {
		return ve.Details
	}
	return nil
}

// isRetryable determines if an error code is worth retrying as-is.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryConflict:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryCache && code == CodeCacheUnavailable:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewDatasetNotFound(datasetID string) *VersionError {
	return New(ErrCategoryNotFound, CodeDatasetNotFound,
		fmt.Sprintf("dataset %s not found", datasetID)).
		WithDetails(map[string]interface{}{"dataset_id": datasetID})
}

func NewVersionNotFound(datasetID, version string) *VersionError {
	return New(ErrCategoryNotFound, CodeVersionNotFound,
		fmt.Sprintf("version %s not found for dataset %s", version, datasetID)).
		WithDetails(map[string]interface{}{"dataset_id": datasetID, "version_number": version})
}

func NewValidationError(code, message string) *VersionError {
	return New(ErrCategoryValidation, code, message)
}

func NewIntegrityError(message string, cause error) *VersionError {
	return Wrap(ErrCategoryIntegrity, CodeMalformedPayload, message, cause)
}

func NewIngestionError(message string, cause error) *VersionError {
	return Wrap(ErrCategoryIngestion, CodeBulkInsertFailed, message, cause)
}

func NewConflictError(message string, cause error) *VersionError {
	return Wrap(ErrCategoryConflict, CodeVersionConflict, message, cause)
}

func NewStorageError(code, message string, cause error) *VersionError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCacheError(code, message string, cause error) *VersionError {
	return Wrap(ErrCategoryCache, code, message, cause)
}

func NewInternalError(message string, cause error) *VersionError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

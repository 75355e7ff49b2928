package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestVersionError_Error(t *testing.T) {
	err := New(ErrCategoryStorage, CodeUploadFailed, "upload failed")
	expected := "[STORAGE:UPLOAD_FAILED] upload failed"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestVersionError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(ErrCategoryIngestion, CodeBulkInsertFailed, "bulk insert failed", cause)
	expected := "[INGESTION:BULK_INSERT_FAILED] bulk insert failed: disk full"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestVersionError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewConflictError("conflict", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestVersionError_Is(t *testing.T) {
	err1 := New(ErrCategoryNotFound, CodeDatasetNotFound, "first")
	err2 := New(ErrCategoryNotFound, CodeDatasetNotFound, "second")
	err3 := New(ErrCategoryNotFound, CodeVersionNotFound, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestCategorySentinels(t *testing.T) {
	wrapped := fmt.Errorf("service: %w", NewVersionNotFound("ds", "1.3"))
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("version not found should match ErrNotFound")
	}
	if errors.Is(wrapped, ErrValidation) {
		t.Error("version not found should not match ErrValidation")
	}
	if !errors.Is(NewIngestionError("bulk", nil), ErrIngestion) {
		t.Error("ingestion error should match ErrIngestion")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryConflict, CodeVersionConflict, true},
		{ErrCategoryCache, CodeCacheUnavailable, true},
		{ErrCategoryCache, CodeCacheCorrupt, false},
		{ErrCategoryIntegrity, CodeMalformedPayload, false},
		{ErrCategoryValidation, CodeInvalidSchema, false},
		{ErrCategoryIngestion, CodeBulkInsertFailed, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewValidationError(CodeUnknownColumns, "bad columns"))
	if GetCategory(err) != ErrCategoryValidation {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryValidation)
	}
	if GetCode(err) != CodeUnknownColumns {
		t.Errorf("got %q, want %q", GetCode(err), CodeUnknownColumns)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("plain errors should return empty category")
	}
}

func TestWithDetails(t *testing.T) {
	err := NewValidationError(CodeUnknownColumns, "bad columns")
	detailed := err.WithDetails(map[string]interface{}{"fields": []string{"color"}})

	if detailed.Details["fields"] == nil {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
	if GetDetails(detailed) == nil {
		t.Error("GetDetails should return details")
	}
}

func TestNotFoundConstructors(t *testing.T) {
	d := NewDatasetNotFound("abc")
	if d.Details["dataset_id"] != "abc" {
		t.Error("dataset id missing from details")
	}
	v := NewVersionNotFound("abc", "1.2")
	if v.Details["version_number"] != "1.2" || v.Code != CodeVersionNotFound {
		t.Error("version not found mismatch")
	}
}

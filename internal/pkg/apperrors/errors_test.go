package apperrors

import (
	"errors"
	"testing"
)

func TestAppErrorError(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		expected string
	}{
		{
			name: "With Code",
			appError: &AppError{
				Code:    "TEST_CODE",
				Message: "This is a test error",
			},
			expected: "[TEST_CODE] This is a test error",
		},
		{
			name: "Without Code",
			appError: &AppError{
				Message: "This is a test error without code",
			},
			expected: "This is a test error without code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.appError.Error()
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestValidationErrorUnwrap(t *testing.T) {
	err := NewValidationError("principal", "must be positive")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected error to unwrap to ErrValidation, got %v", err)
	}

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a *ValidationError in the chain")
	}
	if ve.Field != "principal" {
		t.Errorf("expected field 'principal', got %q", ve.Field)
	}
}

func TestRunInProgressIsConflict(t *testing.T) {
	if !errors.Is(ErrRunInProgress, ErrConflict) {
		t.Error("ErrRunInProgress should match ErrConflict")
	}
}

func TestWrapDatabaseError(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapDatabaseError(cause, "failed to upsert collections record")

	if !errors.Is(err, ErrDatabase) {
		t.Error("wrapped error should match ErrDatabase")
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error should match its cause")
	}
}

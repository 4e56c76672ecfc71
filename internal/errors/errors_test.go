package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestConstructors_StatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantType   ErrorType
		wantStatus int
	}{
		{"validation", NewValidationError("bad", nil), ErrorTypeValidation, http.StatusBadRequest},
		{"staging", NewStagingError("disk", nil), ErrorTypeStaging, http.StatusInternalServerError},
		{"unavailable", NewEngineUnavailableError("no python", nil), ErrorTypeEngineUnavailable, http.StatusServiceUnavailable},
		{"failure", NewEngineFailureError("exit 1", nil), ErrorTypeEngineFailure, http.StatusBadGateway},
		{"protocol", NewEngineProtocolError("bad json", nil), ErrorTypeEngineProtocol, http.StatusBadGateway},
		{"not found", NewNotFoundError("missing", nil), ErrorTypeNotFound, http.StatusNotFound},
		{"internal", NewInternalError("boom", nil), ErrorTypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Expected type %s, got %s", tt.wantType, tt.err.Type)
			}
			if got := GetStatusCode(tt.err); got != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, got)
			}
		})
	}
}

func TestIsType_WrappedError(t *testing.T) {
	base := NewEngineFailureError("engine failed", nil)
	wrapped := fmt.Errorf("unit 2: %w", base)

	if !IsType(wrapped, ErrorTypeEngineFailure) {
		t.Error("Expected wrapped error to match engine_failure")
	}
	if IsType(wrapped, ErrorTypeValidation) {
		t.Error("Expected wrapped error not to match validation")
	}
	if GetStatusCode(wrapped) != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", GetStatusCode(wrapped))
	}
}

func TestGetStatusCode_PlainError(t *testing.T) {
	if got := GetStatusCode(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("Expected 500 for plain errors, got %d", got)
	}
	if got := GetType(errors.New("plain")); got != ErrorTypeInternal {
		t.Errorf("Expected internal type for plain errors, got %s", got)
	}
}

func TestAppError_Message(t *testing.T) {
	cause := errors.New("permission denied")
	err := NewStagingError("failed to stage image", cause)

	if err.Error() != "failed to stage image: permission denied" {
		t.Errorf("Unexpected message: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Expected Unwrap to expose the cause")
	}

	detailed := NewEngineFailureError("engine failed", nil).WithDetails("Analysis failed: bad profile")
	if detailed.Error() != "engine failed: Analysis failed: bad profile" {
		t.Errorf("Unexpected detailed message: %q", detailed.Error())
	}
}

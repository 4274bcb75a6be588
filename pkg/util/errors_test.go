package util

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMappingError(t *testing.T) {
	err := NewMappingError(ErrUnmappedTopologyID, "gpu", []int{1, 2, 3, 7}, "no device with physical id")

	msg := err.Error()
	if !strings.Contains(msg, "gpu") {
		t.Errorf("Error message should contain type: %s", msg)
	}
	if !strings.Contains(msg, "1-3,7") {
		t.Errorf("Error message should contain compacted ids: %s", msg)
	}
	if !strings.Contains(msg, "no device with physical id") {
		t.Errorf("Error message should contain details: %s", msg)
	}
	if !errors.Is(err, ErrUnmappedTopologyID) {
		t.Errorf("MappingError should unwrap to its kind")
	}
	if errors.Is(err, ErrDeviceCountMismatch) {
		t.Errorf("MappingError should not match a different kind")
	}
}

func TestMappingErrorNoIDs(t *testing.T) {
	msg := NewMappingError(ErrDeviceCountMismatch, "switch", nil, "").Error()
	if strings.Contains(msg, "ids") || strings.HasSuffix(msg, ")") {
		t.Errorf("Error message should not carry empty ids or details: %s", msg)
	}
}

func TestOracleError(t *testing.T) {
	cause := errors.New("timeout polling routing table")
	err := &OracleError{Device: "0000:05:00.0", Link: 4, Base: 0x1000, DataType: "request", Err: cause}

	if !errors.Is(err, ErrForwardingOracle) {
		t.Error("OracleError should match ErrForwardingOracle")
	}
	if !errors.Is(err, cause) {
		t.Error("OracleError should match its cause")
	}
	if !strings.Contains(err.Error(), "0x1000") {
		t.Errorf("Error message should contain base address: %s", err.Error())
	}
}

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("field is required")
		msg := err.Error()
		if !strings.Contains(msg, "field is required") {
			t.Errorf("Error message should contain the error: %s", msg)
		}
		if !errors.Is(err, ErrValidationFailed) {
			t.Errorf("ValidationError should unwrap to ErrValidationFailed")
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("field1 is required", "field2 is invalid", "field3 out of range")
		msg := err.Error()
		if !strings.Contains(msg, "field1") || !strings.Contains(msg, "field2") || !strings.Contains(msg, "field3") {
			t.Errorf("Error message should contain all errors: %s", msg)
		}
	})
}

func TestValidationBuilder(t *testing.T) {
	t.Run("no errors", func(t *testing.T) {
		v := &ValidationBuilder{}
		v.Add(true, "this should not appear")
		v.Add(true, "neither should this")

		if v.HasErrors() {
			t.Error("Should not have errors when all conditions are true")
		}
		if err := v.Build(); err != nil {
			t.Errorf("Build() should return nil when no errors: %v", err)
		}
	})

	t.Run("with errors", func(t *testing.T) {
		v := &ValidationBuilder{}
		v.Add(false, "first error")
		v.Add(true, "this passes")
		v.Add(false, "second error")
		v.AddError("unconditional error")
		v.AddErrorf("formatted error: %d", 42)

		if !v.HasErrors() {
			t.Error("Should have errors")
		}

		err := v.Build()
		if err == nil {
			t.Fatal("Build() should return error")
		}

		validationErr, ok := err.(*ValidationError)
		if !ok {
			t.Fatalf("Expected *ValidationError, got %T", err)
		}
		if len(validationErr.Errors) != 4 {
			t.Errorf("Expected 4 errors, got %d", len(validationErr.Errors))
		}
	})

	t.Run("chaining", func(t *testing.T) {
		err := (&ValidationBuilder{}).
			Add(false, "error1").
			Add(false, "error2").
			AddErrorf("error%d", 3).
			Build()

		if err == nil {
			t.Fatal("Expected error")
		}
		if !strings.Contains(err.Error(), "error1") {
			t.Errorf("Missing error1 in: %s", err.Error())
		}
	})
}

func TestSentinelErrors(t *testing.T) {
	// Test that sentinel errors are distinct
	sentinels := []error{
		ErrConflictingAssignment,
		ErrDeviceCountMismatch,
		ErrUnmappedTopologyID,
		ErrValidationFailed,
		ErrMissingAddressRange,
		ErrApertureOverlap,
		ErrForwardingOracle,
		ErrDuplicateConnection,
		ErrForwardingLoop,
	}

	for i, err1 := range sentinels {
		for j, err2 := range sentinels {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("Sentinel errors should be distinct: %v == %v", err1, err2)
			}
		}
	}
}

func TestErrorsIsWrapping(t *testing.T) {
	// Test that errors.Is works with wrapped errors
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"MappingError", NewMappingError(ErrConflictingAssignment, "gpu", []int{0}, ""), ErrConflictingAssignment},
		{"ValidationError", NewValidationError("msg"), ErrValidationFailed},
		{"fmt wrapped", fmt.Errorf("allocating: %w", ErrMissingAddressRange), ErrMissingAddressRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("%s should wrap %v", tt.name, tt.sentinel)
			}
		})
	}
}

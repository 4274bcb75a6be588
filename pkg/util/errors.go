// Package util provides utility functions and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the topology setup pipeline
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")

	// Mapping
	ErrConflictingAssignment = errors.New("conflicting topology id assignment")
	ErrDeviceCountMismatch   = errors.New("device count mismatch")
	ErrUnmappedTopologyID    = errors.New("unmapped topology id")

	// Validation
	ErrValidationFailed = errors.New("validation failed")

	// Allocation
	ErrMissingAddressRange = errors.New("missing address range record")
	ErrApertureOverlap     = errors.New("fabric apertures overlap")

	// Construction
	ErrForwardingOracle    = errors.New("forwarding oracle failure")
	ErrDuplicateConnection = errors.New("internal error: duplicate connection")
	ErrForwardingLoop      = errors.New("forwarding loop detected")
)

// MappingError describes a failure of the identity mapper for one device type.
type MappingError struct {
	Kind    error  // one of the mapping sentinels
	Type    string // device type
	IDs     []int  // topology ids involved (may be empty)
	Details string
}

func (e *MappingError) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Kind, e.Type)
	if len(e.IDs) > 0 {
		msg += " ids " + CompactRange(e.IDs)
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *MappingError) Unwrap() error {
	return e.Kind
}

// NewMappingError creates a mapping error
func NewMappingError(kind error, typ string, ids []int, details string) *MappingError {
	return &MappingError{Kind: kind, Type: typ, IDs: ids, Details: details}
}

// OracleError wraps a failed forwarding-oracle query with the hop it was made for.
type OracleError struct {
	Device   string
	Link     int
	Base     uint64
	DataType string
	Err      error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("forwarding query on %s link %d for 0x%x/%s: %v",
		e.Device, e.Link, e.Base, e.DataType, e.Err)
}

func (e *OracleError) Unwrap() []error {
	return []error{ErrForwardingOracle, e.Err}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// Package util provides logging and the error types shared across eapitest.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrValidationFailed = errors.New("validation failed")
	ErrNotConnected     = errors.New("device not connected")
	ErrPermissionDenied = errors.New("permission denied")
)

// NotFoundError names the missing resource
type NotFoundError struct {
	Kind string // "device", "check", ...
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(kind, name string) *NotFoundError {
	return &NotFoundError{Kind: kind, Name: name}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Source string // file or object being validated, may be empty
	Errors []string
}

func (e *ValidationError) Error() string {
	prefix := "validation failed"
	if e.Source != "" {
		prefix = e.Source + ": " + prefix
	}
	if len(e.Errors) == 1 {
		return prefix + ": " + e.Errors[0]
	}
	return fmt.Sprintf("%s:\n  - %s", prefix, strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder accumulates validation errors
type ValidationBuilder struct {
	source string
	errors []string
}

// NewValidationBuilder creates a builder whose errors are attributed to source
func NewValidationBuilder(source string) *ValidationBuilder {
	return &ValidationBuilder{source: source}
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// Addf adds a formatted error message if condition is false
func (v *ValidationBuilder) Addf(condition bool, format string, args ...interface{}) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, fmt.Sprintf(format, args...))
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
	return &ValidationError{Source: v.source, Errors: v.errors}
}

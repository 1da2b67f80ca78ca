// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed errors for the harness runtime.
//
// Faults at a collaborator boundary are classified with an ErrorCode so the
// orchestration loop, the CLI and telemetry can tell recoverable capability
// faults from hard failures of the model backend.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies harness errors for logging, metrics and exit codes.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeToolFailure indicates a capability invocation failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeConnectionFailure indicates a provider connection could not reach ready.
	CodeConnectionFailure ErrorCode = "CONNECTION_FAILURE"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeMemoryError indicates a vector store or embedding error.
	CodeMemoryError ErrorCode = "MEMORY_ERROR"

	// CodeLLMError indicates a model backend error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeCancelled indicates the caller interrupted the operation.
	CodeCancelled ErrorCode = "CANCELLED"
)

// HarnessError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type HarnessError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *HarnessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *HarnessError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *HarnessError) MarshalJSON() ([]byte, error) {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         cause,
		Recoverable: e.Recoverable,
		Context:     e.Context,
		Attributes:  e.Attributes,
	})
}

// New creates a new HarnessError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *HarnessError {
	return &HarnessError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *HarnessError) WithContext(key string, value interface{}) *HarnessError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL spans.
func (e *HarnessError) WithAttribute(key, value string) *HarnessError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *HarnessError) WithRecoverable(recoverable bool) *HarnessError {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" for metric attributes.
func (e *HarnessError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// AsHarnessError finds the first HarnessError in the chain, or wraps err as internal.
func AsHarnessError(err error) *HarnessError {
	if err == nil {
		return nil
	}
	var he *HarnessError
	if stderrors.As(err, &he) {
		return he
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first HarnessError in the chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var he *HarnessError
	if stderrors.As(err, &he) {
		return he.Code
	}
	return CodeInternal
}

// ExitCode maps an error to a process exit status for the CLI.
func ExitCode(err error) int {
	switch CodeOf(err) {
	case "":
		return 0
	case CodeInvalidInput:
		return 2
	case CodeCancelled:
		return 130
	case CodeLLMError, CodeTimeout:
		return 3
	default:
		return 1
	}
}

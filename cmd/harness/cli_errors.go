// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/jllopis/harness/pkg/errors"
)

// CLIError wraps HarnessError with a hint for the user.
type CLIError struct {
	*errors.HarnessError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(he *errors.HarnessError, hint string) *CLIError {
	return &CLIError{HarnessError: he, Hint: hint}
}

// Error returns the message followed by the hint.
func (e *CLIError) Error() string {
	if e.HarnessError == nil {
		return "unknown error"
	}
	msg := e.HarnessError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the wrapped HarnessError.
func (e *CLIError) Unwrap() error {
	if e.HarnessError == nil {
		return nil
	}
	return e.HarnessError
}

type jsonError struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Cause   string           `json:"cause,omitempty"`
	Hint    string           `json:"hint,omitempty"`
}

// PrintError writes the error to w, as a JSON object when asJSON is set.
func (e *CLIError) PrintError(w io.Writer, asJSON bool) {
	he := e.HarnessError
	if he == nil {
		he = errors.New(errors.CodeInternal, "unknown error", nil)
	}
	cause := ""
	if he.Err != nil {
		cause = he.Err.Error()
	}
	if asJSON {
		data, _ := json.Marshal(map[string]jsonError{"error": {
			Code:    he.Code,
			Message: he.Message,
			Cause:   cause,
			Hint:    e.Hint,
		}})
		fmt.Fprintln(w, string(data))
		return
	}

	red := color.New(color.FgRed, color.Bold)
	red.Fprintf(w, "Error [%s]: ", FormatErrorCode(he.Code))
	fmt.Fprint(w, he.Message)
	if cause != "" {
		fmt.Fprintf(w, ": %s", cause)
	}
	fmt.Fprintln(w)
	if e.Hint != "" {
		color.New(color.Faint).Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(reason string) *CLIError {
	he := errors.New(errors.CodeInvalidInput, "invalid argument: "+reason, nil).
		WithContext("reason", reason).
		WithRecoverable(false)
	return NewCLIError(he, "run 'harness --help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	he := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(he, hint)
}

// WrapConnectionError wraps a backend connection error with CLI hints.
func WrapConnectionError(err error, what, addr string) *CLIError {
	he := errors.New(errors.CodeConnectionFailure, what+" unavailable", err).
		WithContext("address", addr).
		WithRecoverable(true)
	return NewCLIError(he, fmt.Sprintf("check that %s is running at %s", what, addr))
}

// hintFor suggests a next step for errors raised by a run.
func hintFor(err error) string {
	switch errors.CodeOf(err) {
	case errors.CodeLLMError:
		return "check that the model backend is running and the model is pulled"
	case errors.CodeTimeout:
		return "raise llm.timeout_seconds or use a smaller model"
	case errors.CodeMemoryError:
		return "check the vector store, or start with --set memory.enabled=false"
	default:
		return ""
	}
}

// FormatErrorCode returns a user-friendly name for error codes.
func FormatErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInternal:
		return "Internal Error"
	case errors.CodeInvalidInput:
		return "Invalid Input"
	case errors.CodeNotFound:
		return "Not Found"
	case errors.CodeTimeout:
		return "Timeout"
	case errors.CodeToolFailure:
		return "Tool Failure"
	case errors.CodeConnectionFailure:
		return "Connection Failure"
	case errors.CodeLLMError:
		return "LLM Error"
	case errors.CodeMemoryError:
		return "Memory Error"
	case errors.CodeCancelled:
		return "Cancelled"
	default:
		return string(code)
	}
}

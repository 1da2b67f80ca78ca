// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	stderrors "errors"

	"github.com/jllopis/harness/pkg/errors"
)

// WrapLLMError classifies a failed model call. A deadline that expired
// without the caller's context being done is the backend's own timeout.
func WrapLLMError(ctx context.Context, err error, model string, step int) *errors.HarnessError {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return WrapCancelled(ctx.Err(), "model call", step)
	}
	code := errors.CodeLLMError
	msg := "model call failed"
	if stderrors.Is(err, context.DeadlineExceeded) {
		code = errors.CodeTimeout
		msg = "model call timed out"
	}
	return errors.New(code, msg, err).
		WithContext("model", model).
		WithContext("step", step).
		WithAttribute("llm.model", model).
		WithRecoverable(true)
}

// WrapCancelled reports an interrupt during stage.
func WrapCancelled(cause error, stage string, step int) *errors.HarnessError {
	return errors.New(errors.CodeCancelled, "run interrupted during "+stage, cause).
		WithContext("stage", stage).
		WithContext("step", step).
		WithRecoverable(true)
}

// NewInvalidInputError creates a new invalid input error.
func NewInvalidInputError(msg string) *errors.HarnessError {
	return errors.New(errors.CodeInvalidInput, msg, nil).
		WithRecoverable(false)
}

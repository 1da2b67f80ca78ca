// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/jllopis/harness/pkg/errors"
)

func TestWrapLLMError(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		err      error
		wantCode errors.ErrorCode
	}{
		{name: "nil error", ctx: context.Background(), err: nil},
		{
			name:     "backend error",
			ctx:      context.Background(),
			err:      stderrors.New("connection refused"),
			wantCode: errors.CodeLLMError,
		},
		{
			name:     "backend timeout",
			ctx:      context.Background(),
			err:      fmt.Errorf("ollama: %w", context.DeadlineExceeded),
			wantCode: errors.CodeTimeout,
		},
		{
			name:     "caller interrupt",
			ctx:      cancelled,
			err:      context.Canceled,
			wantCode: errors.CodeCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := WrapLLMError(tt.ctx, tt.err, "codestral", 2)
			if tt.err == nil {
				if he != nil {
					t.Errorf("WrapLLMError() = %v, want nil", he)
				}
				return
			}
			if he == nil {
				t.Fatalf("WrapLLMError() = nil, want non-nil")
			}
			if he.Code != tt.wantCode {
				t.Errorf("WrapLLMError().Code = %v, want %v", he.Code, tt.wantCode)
			}
			if he.Context["step"] != 2 {
				t.Errorf("WrapLLMError().Context[step] = %v, want 2", he.Context["step"])
			}
			if !stderrors.Is(he, tt.err) {
				t.Errorf("expected cause to stay in the chain")
			}
		})
	}
}

func TestWrapCancelled(t *testing.T) {
	he := WrapCancelled(context.Canceled, "capability read_file", 3)
	if he.Code != errors.CodeCancelled {
		t.Fatalf("expected CANCELLED, got %v", he.Code)
	}
	if !stderrors.Is(he, context.Canceled) {
		t.Fatalf("expected errors.Is(context.Canceled)")
	}
	if errors.ExitCode(he) != 130 {
		t.Fatalf("expected exit code 130, got %d", errors.ExitCode(he))
	}
}

func TestNewInvalidInputError(t *testing.T) {
	he := NewInvalidInputError("empty task")
	if he.Code != errors.CodeInvalidInput || he.Recoverable {
		t.Fatalf("unexpected error: %+v", he)
	}
}

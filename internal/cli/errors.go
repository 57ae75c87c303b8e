// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/security"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitAuthError    = 4
	ExitNetworkError = 5
	ExitNotFound     = 7
	ExitRateLimited  = 9
	ExitInterrupted  = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError is a bad argument or flag value.
type UsageError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	msg := fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	if e.Example != "" {
		msg += fmt.Sprintf(" (example: %s)", e.Example)
	}
	return msg
}

// NewUsageError creates a UsageError.
func NewUsageError(field, value, reason string) error {
	return &UsageError{Field: field, Value: value, Reason: reason}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w, as a JSON object in JSON mode.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		resp := NewJSONErrorResponse("", err)
		resp.Data = map[string]any{"error_type": errorType(err)}
		_ = resp.Write(w)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

// GetExitCode maps an error to the process exit status.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsageError
	}
	var validateErrs config.ValidateErrors
	if errors.As(err, &validateErrs) {
		return ExitConfigError
	}
	if errors.Is(err, session.ErrNotFound) {
		return ExitNotFound
	}
	if errors.Is(err, security.ErrNoCredential) {
		return ExitAuthError
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}

	var authErr *cloud.AuthError
	var rateErr *cloud.RateLimitError
	var svcErr *cloud.ServiceError
	var netErr *cloud.NetworkError
	switch {
	case errors.As(err, &authErr):
		return ExitAuthError
	case errors.As(err, &rateErr):
		return ExitRateLimited
	case errors.As(err, &svcErr), errors.As(err, &netErr):
		return ExitNetworkError
	}
	return ExitGeneralError
}

func errorType(err error) string {
	switch GetExitCode(err) {
	case ExitUsageError:
		return "usage_error"
	case ExitConfigError:
		return "config_error"
	case ExitNotFound:
		return "not_found"
	case ExitInterrupted:
		return "canceled"
	case ExitAuthError:
		return cloud.KindAuth.String()
	case ExitRateLimited:
		return cloud.KindRateLimit.String()
	case ExitNetworkError:
		return cloud.Classify(err).String()
	}
	return "error"
}

// writeJSON encodes v indented.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

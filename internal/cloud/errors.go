// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// User-facing error sentences.
const (
	msgKeyRequired = "OpenAI API key is required. Please enter your API key in the settings."
	msgInvalidKey  = "Invalid API key. Please check your OpenAI API key and try again."
	msgRateLimited = "Rate limit exceeded. Please wait a moment and try again."
	msgService     = "OpenAI service error. Please try again later."
	msgNetwork     = "Failed to connect to OpenAI API. Please check your internet connection and try again."
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// AuthError reports a missing or rejected credential.
type AuthError struct {
	Status  int    // 0 when the key was missing locally
	Message string // upstream message, if any
	Missing bool
}

func (e *AuthError) Error() string {
	if e.Missing {
		return msgKeyRequired
	}
	return msgInvalidKey
}

// RateLimitError reports an upstream 429.
type RateLimitError struct {
	Status  int
	Message string
}

func (e *RateLimitError) Error() string {
	return msgRateLimited
}

// ServiceError reports an upstream fault: any 5xx, or another non-2xx status
// whose error body could be parsed.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Status >= 500 || e.Message == "" {
		return msgService
	}
	return "API Error: " + e.Message
}

// NetworkError reports a transport-level failure or a response that could
// not be interpreted.
type NetworkError struct {
	Status int // non-zero when a response arrived but was unusable
	Err    error
}

func (e *NetworkError) Error() string {
	return msgNetwork
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Kind is the taxonomy bucket of a transport error.
type Kind int

const (
	KindNone Kind = iota
	KindAuth
	KindRateLimit
	KindService
	KindNetwork
	KindCanceled
)

// String returns a short label, used for metrics and logs.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindService:
		return "service"
	case KindNetwork:
		return "network"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps err to its Kind. Errors outside the taxonomy count as
// network failures, except context cancellation and deadline expiry.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var authErr *AuthError
	var rateErr *RateLimitError
	var svcErr *ServiceError
	switch {
	case errors.As(err, &authErr):
		return KindAuth
	case errors.As(err, &rateErr):
		return KindRateLimit
	case errors.As(err, &svcErr):
		return KindService
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindNetwork
	}
}

// apiErrorResponse is the upstream error envelope.
type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// handleErrorResponse converts a non-2xx response into a typed error.
//
// 401, 429 and 5xx map by status alone. Any other status needs a parseable
// error body to become a ServiceError; otherwise it is a NetworkError.
func handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	parsed := json.Unmarshal(body, &apiErr) == nil
	message := strings.TrimSpace(apiErr.Error.Message)

	switch {
	case statusCode == http.StatusUnauthorized:
		return &AuthError{Status: statusCode, Message: message}
	case statusCode == http.StatusTooManyRequests:
		return &RateLimitError{Status: statusCode, Message: message}
	case statusCode >= 500:
		return &ServiceError{Status: statusCode, Message: message}
	case parsed && message != "":
		return &ServiceError{Status: statusCode, Message: message}
	default:
		return &NetworkError{
			Status: statusCode,
			Err:    errors.New(http.StatusText(statusCode)),
		}
	}
}

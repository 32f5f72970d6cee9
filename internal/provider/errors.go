// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// Sentinel errors classifying provider failures. Callers check them with
// errors.Is; the concrete error value is always a *Error carrying the
// model's display name and a human-readable message.
var (
	// ErrAuthentication indicates invalid credentials or denied access.
	// Not retryable without operator action.
	ErrAuthentication = errors.New("authentication failed")

	// ErrRateLimited indicates the provider throttled the request.
	// Retryable after backoff; this package never retries itself.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrConnection indicates a transport-level failure, including
	// timeouts. Retryable.
	ErrConnection = errors.New("connection failed")
)

// Error is a provider failure with a human-readable message identifying the
// offending model by its configured display name.
//
// Kind, when set, links the error to one of the sentinel classifications so
// errors.Is(err, ErrRateLimited) works; a nil Kind is the generic
// provider-error catch-all.
type Error struct {
	// Model is the configured display name of the model.
	Model string
	// Code is the vendor error code, when one was reported.
	Code string
	// Message is the human-readable description.
	Message string
	// Kind is the sentinel classification, nil for generic errors.
	Kind error
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Model, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Model, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches one of the sentinel classifications.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// authError builds an authentication-class error.
func authError(model, message string, cause error) *Error {
	return &Error{Model: model, Message: message, Kind: ErrAuthentication, Err: cause}
}

// rateLimitError builds a throttling-class error.
func rateLimitError(model, message string, cause error) *Error {
	return &Error{Model: model, Message: message, Kind: ErrRateLimited, Err: cause}
}

// connectionError builds a transport-class error.
func connectionError(model, message string, cause error) *Error {
	return &Error{Model: model, Message: message, Kind: ErrConnection, Err: cause}
}

// providerError builds a generic provider error.
func providerError(model, message string, cause error) *Error {
	return &Error{Model: model, Message: message, Err: cause}
}

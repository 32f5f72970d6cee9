// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

// UnknownKeyError reports selection of a model or agent key that is not in
// the configuration. The current selection is left unchanged.
type UnknownKeyError struct {
	// Kind is "model" or "agent".
	Kind string
	// Key is the rejected key.
	Key string
	// Available lists the configured keys, sorted.
	Available []string
}

// Error implements the error interface.
func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("unknown %s %q (available: %s)", e.Kind, e.Key, strings.Join(e.Available, ", "))
}

// CapabilityError reports a message attachment the selected model cannot
// accept. The message is rejected before any state changes.
type CapabilityError struct {
	// Model is the display name of the selected model.
	Model string
	// Feature is the unsupported feature name.
	Feature string
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	return fmt.Sprintf("model %q does not support %s", e.Model, e.Feature)
}

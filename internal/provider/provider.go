// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/model"
)

// =============================================================================
// FEATURES
// =============================================================================

// Feature names accepted by Provider.SupportsFeature. Unknown names always
// report false.
const (
	FeatureImages    = "images"
	FeatureDocuments = "documents"
	FeatureReasoning = "reasoning"
)

// =============================================================================
// PROVIDER INTERFACE
// =============================================================================

// StreamCallback receives each chunk of a streamed response, in wire order.
type StreamCallback func(chunk model.StreamChunk)

// Provider is the uniform chat-streaming contract over the backends.
//
// StreamChat issues exactly one network call, delivers chunks to the
// callback in the order they are read from the wire, and returns after the
// terminal chunk or on the first failure. The context is honored at every
// stream read, so cancelling it aborts a mid-flight stream. No retries are
// performed; partial output delivered before a failure is the caller's to
// discard.
type Provider interface {
	StreamChat(ctx context.Context, messages []model.Message, maxTokens int, temperature float64, callback StreamCallback) error
	SupportsFeature(feature string) bool
}

// =============================================================================
// FACTORY
// =============================================================================

// New constructs the adapter for a model's configured provider type.
//
// Dispatch is a closed switch: only the two known provider kinds exist, and
// an unknown tag is a configuration error naming the supported tags.
// Adapters are cheap to construct; callers build a fresh one per streaming
// call.
func New(cfg config.ModelConfig, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderBedrock:
		return NewBedrockProvider(cfg, logger)
	case config.ProviderOpenAICompatible:
		return NewOpenAIProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported provider type %q for model %q (supported: %q, %q)",
			cfg.Provider, cfg.Name, config.ProviderBedrock, config.ProviderOpenAICompatible)
	}
}

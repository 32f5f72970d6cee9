// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the chat-streaming backends.
//
// Two adapters translate the uniform streaming contract to their backend's
// wire protocol: BedrockProvider speaks the AWS Bedrock converse-stream
// event protocol, and OpenAIProvider speaks the OpenAI-style
// chat-completions SSE protocol used by local servers (Ollama, LM Studio,
// llama.cpp, vLLM).
//
// Both adapters share one error taxonomy (ErrAuthentication, ErrRateLimited,
// ErrConnection, plus the generic *Error) and produce the same
// model.StreamChunk sequence, so the chat service never needs to know which
// backend served a request. New selects the adapter from a model's
// configured provider type.
//
// Adapters are immutable after construction and hold no per-call state; a
// single adapter value is safe for concurrent independent calls. Neither
// adapter retries: every failure surfaces to the caller immediately.
package provider

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat orchestrates conversations across providers, storage, and
// knowledge.
//
// The Service owns the in-memory conversation history and the current
// model/agent selection. One streamed exchange works in a fixed order:
// resolve the selected model, gate the message against the model's
// capabilities, record the user turn, assemble the outgoing prompt (agent
// instructions plus any relevant knowledge), stream the response, and
// record the assistant turn only if the stream succeeded. A failed stream
// leaves the user turn in place and nothing else.
//
// # Key Types
//
//   - Service: conversation state and the StreamResponse operation
//   - UnknownKeyError: selection of a model or agent key that is not configured
//   - CapabilityError: an attachment the selected model cannot accept
//
// # Usage
//
//	svc := chat.NewService(cfg, store, knowledgeSvc, logger)
//	err := svc.StreamResponse(ctx, model.NewUserMessage(input), onChunk)
package chat

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package knowledge fetches and scores agent knowledge sources.
//
// An agent may declare web knowledge sources, each tagged with keywords and
// topics. When a user message arrives, the service scores every source
// against the message text and fetches the relevant ones, stripping HTML
// down to readable text. Fetches are rate limited and cached on disk, so
// repeated questions about the same source stay off the network.
//
// # Key Types
//
//   - Service: scoring, fetching, and caching
//   - Snippet: one fetched source, named and trimmed for prompt injection
//
// # Usage
//
//	svc := knowledge.NewService(cacheDir, logger)
//	snippets, err := svc.FetchRelevantKnowledge(ctx, userText, agent, 3)
package knowledge

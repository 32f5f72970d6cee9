// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the shared data structures for conversations.
//
// The two core types are Message, one turn of a conversation, and
// StreamChunk, one increment of a streamed provider response. Both are pure
// data contracts: providers produce StreamChunks, the chat service owns
// Messages, and neither type carries behavior beyond small accessors.
package model

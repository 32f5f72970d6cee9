// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations to a local SQLite database.
//
// Rows hold the text of conversations and messages; binary attachments
// (images, documents) live as files under an attachments directory next to
// the database, written atomically so a crash never leaves a half-written
// attachment referenced by a committed row.
//
// # Key Types
//
//   - Store: the database handle and all persistence operations
//   - Conversation: one conversation with its ordered messages
//   - ConversationSummary: the cheap listing row
//
// # Usage
//
//	store, err := storage.Open(dataDir, logger)
//	conv, err := store.CreateConversation("", "local", "default")
//	_, err = store.AddMessage(conv.ID, msg, reasoning)
package storage

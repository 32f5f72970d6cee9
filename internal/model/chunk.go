// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// STREAM CHUNK TYPE
// =============================================================================

// StreamChunk represents one increment of a streamed response.
//
// A chunk carries at most one kind of meaningful payload: visible answer
// text in Content, reasoning text in Reasoning (with IsReasoning set), or a
// terminal marker in Done. Chunks are ephemeral; providers produce them per
// wire event and the chat service consumes them immediately.
type StreamChunk struct {
	// Content is the visible answer delta, empty if none.
	Content string

	// Reasoning is the model "thinking" delta, empty if none.
	Reasoning string

	// IsReasoning is true if this chunk is reasoning-only.
	IsReasoning bool

	// Done marks the end of the stream.
	Done bool
}

// TextChunk returns a chunk carrying visible answer text.
func TextChunk(content string) StreamChunk {
	return StreamChunk{Content: content}
}

// ReasoningChunk returns a chunk carrying reasoning text.
func ReasoningChunk(reasoning string) StreamChunk {
	return StreamChunk{Reasoning: reasoning, IsReasoning: true}
}

// DoneChunk returns the stream-terminal marker.
func DoneChunk() StreamChunk {
	return StreamChunk{Done: true}
}

// Empty reports whether the chunk carries no payload and no terminal marker.
// Emitting an empty chunk is legal but carries no information.
func (c StreamChunk) Empty() bool {
	return c.Content == "" && c.Reasoning == "" && !c.Done
}

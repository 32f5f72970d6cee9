// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"strings"
	"time"
)

// =============================================================================
// CONVERSATION EXPORT
// =============================================================================

// ExportMarkdown renders the conversation as Markdown with role labels,
// timestamps, and attachment placeholders. Reasoning text appears in a
// quoted block ahead of the assistant's answer.
func (c *Conversation) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# " + c.Title + "\n\n")
	sb.WriteString("Created: " + c.CreatedAt.Format(time.RFC3339) + "\n")
	sb.WriteString("Model: " + c.ModelKey + " | Agent: " + c.AgentKey + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range c.Messages {
		label := "**User**"
		switch msg.Role {
		case "assistant":
			label = "**Assistant**"
		case "system":
			label = "**System**"
		}
		sb.WriteString(label + " (" + msg.CreatedAt.Format("15:04") + "):\n\n")

		if msg.Reasoning != "" {
			for _, line := range strings.Split(msg.Reasoning, "\n") {
				sb.WriteString("> " + line + "\n")
			}
			sb.WriteString("\n")
		}

		sb.WriteString(msg.Content + "\n")

		for _, att := range msg.Attachments {
			sb.WriteString("\n*[" + att.Kind + ": " + att.Filename + "]*\n")
		}

		sb.WriteString("\n---\n\n")
	}

	return sb.String()
}

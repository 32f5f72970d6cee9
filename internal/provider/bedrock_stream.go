// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/jeranaias/aichat-tui/internal/model"
)

// =============================================================================
// STREAM DEMULTIPLEXING
// =============================================================================

// blockKind tracks how a content block's deltas should be emitted.
type blockKind int

const (
	blockText blockKind = iota
	blockReasoning
)

// demuxStream consumes converse-stream events and emits chunks in wire
// order. Bedrock interleaves reasoning and text as separately indexed
// content blocks, so each block's kind is recorded when it opens and its
// deltas are tagged accordingly. Reasoning deltas also back-fill the kind:
// the open event does not distinguish reasoning blocks, only the deltas do.
func (p *BedrockProvider) demuxStream(ctx context.Context, events <-chan types.ConverseStreamOutput, callback StreamCallback) error {
	kinds := make(map[int32]blockKind)

	for {
		select {
		case <-ctx.Done():
			return connectionError(p.cfg.Name, "stream cancelled", ctx.Err())
		case event, ok := <-events:
			if !ok {
				return nil
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberMessageStart:
				p.logger.Debug("message started", "role", ev.Value.Role)

			case *types.ConverseStreamOutputMemberContentBlockStart:
				if ev.Value.ContentBlockIndex != nil {
					kinds[*ev.Value.ContentBlockIndex] = blockText
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				var index int32
				if ev.Value.ContentBlockIndex != nil {
					index = *ev.Value.ContentBlockIndex
				}

				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if kinds[index] == blockReasoning {
						callback(model.ReasoningChunk(delta.Value))
					} else {
						callback(model.TextChunk(delta.Value))
					}

				case *types.ContentBlockDeltaMemberReasoningContent:
					kinds[index] = blockReasoning
					if text, ok := delta.Value.(*types.ReasoningContentBlockDeltaMemberText); ok {
						callback(model.ReasoningChunk(text.Value))
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if ev.Value.ContentBlockIndex != nil {
					delete(kinds, *ev.Value.ContentBlockIndex)
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				p.logger.Debug("message stopped", "reason", ev.Value.StopReason)
				callback(model.DoneChunk())

			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					p.logger.Debug("stream usage",
						"input_tokens", derefInt32(ev.Value.Usage.InputTokens),
						"output_tokens", derefInt32(ev.Value.Usage.OutputTokens))
				}
			}
		}
	}
}

func derefInt32(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}

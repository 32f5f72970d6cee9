// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/model"
)

func bedrockConfig() config.ModelConfig {
	return config.ModelConfig{
		Provider: config.ProviderBedrock,
		Name:     "Claude Sonnet",
		ModelID:  "anthropic.claude-3-5-sonnet-20241022-v2:0",
	}
}

func testBedrockProvider() *BedrockProvider {
	return &BedrockProvider{cfg: bedrockConfig(), logger: testLogger()}
}

// runDemux feeds a fixed event sequence through the demultiplexer and
// collects the emitted chunks.
func runDemux(t *testing.T, events []types.ConverseStreamOutput) []model.StreamChunk {
	t.Helper()
	ch := make(chan types.ConverseStreamOutput, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)

	var chunks []model.StreamChunk
	p := testBedrockProvider()
	err := p.demuxStream(context.Background(), ch, func(c model.StreamChunk) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	return chunks
}

func textDelta(index int32, text string) types.ConverseStreamOutput {
	return &types.ConverseStreamOutputMemberContentBlockDelta{
		Value: types.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(index),
			Delta:             &types.ContentBlockDeltaMemberText{Value: text},
		},
	}
}

func reasoningDelta(index int32, text string) types.ConverseStreamOutput {
	return &types.ConverseStreamOutputMemberContentBlockDelta{
		Value: types.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(index),
			Delta: &types.ContentBlockDeltaMemberReasoningContent{
				Value: &types.ReasoningContentBlockDeltaMemberText{Value: text},
			},
		},
	}
}

func blockStart(index int32) types.ConverseStreamOutput {
	return &types.ConverseStreamOutputMemberContentBlockStart{
		Value: types.ContentBlockStartEvent{ContentBlockIndex: aws.Int32(index)},
	}
}

func blockStop(index int32) types.ConverseStreamOutput {
	return &types.ConverseStreamOutputMemberContentBlockStop{
		Value: types.ContentBlockStopEvent{ContentBlockIndex: aws.Int32(index)},
	}
}

func messageStop() types.ConverseStreamOutput {
	return &types.ConverseStreamOutputMemberMessageStop{
		Value: types.MessageStopEvent{StopReason: types.StopReasonEndTurn},
	}
}

func TestDemuxStream_TextOnly(t *testing.T) {
	chunks := runDemux(t, []types.ConverseStreamOutput{
		&types.ConverseStreamOutputMemberMessageStart{Value: types.MessageStartEvent{Role: types.ConversationRoleAssistant}},
		blockStart(0),
		textDelta(0, "Hello"),
		textDelta(0, " from"),
		textDelta(0, " Bedrock!"),
		blockStop(0),
		messageStop(),
	})

	var text strings.Builder
	for _, c := range chunks {
		require.False(t, c.IsReasoning)
		text.WriteString(c.Content)
	}
	assert.Equal(t, "Hello from Bedrock!", text.String())
	require.NotEmpty(t, chunks)
	assert.True(t, chunks[len(chunks)-1].Done)
}

func TestDemuxStream_ReasoningThenText(t *testing.T) {
	chunks := runDemux(t, []types.ConverseStreamOutput{
		blockStart(0),
		reasoningDelta(0, "thinking"),
		reasoningDelta(0, " hard"),
		blockStop(0),
		blockStart(1),
		textDelta(1, "answer"),
		blockStop(1),
		messageStop(),
	})

	var reasoning, text strings.Builder
	for _, c := range chunks {
		if c.IsReasoning {
			reasoning.WriteString(c.Reasoning)
		} else {
			text.WriteString(c.Content)
		}
	}
	assert.Equal(t, "thinking hard", reasoning.String())
	assert.Equal(t, "answer", text.String())
}

func TestDemuxStream_InterleavedBlocks(t *testing.T) {
	// Reasoning on index 0 and text on index 1 interleave; the block index
	// keeps them apart even when deltas alternate.
	chunks := runDemux(t, []types.ConverseStreamOutput{
		blockStart(0),
		blockStart(1),
		reasoningDelta(0, "r1"),
		textDelta(1, "t1"),
		reasoningDelta(0, "r2"),
		textDelta(1, "t2"),
		blockStop(0),
		blockStop(1),
		messageStop(),
	})

	var reasoning, text strings.Builder
	for _, c := range chunks {
		if c.IsReasoning {
			reasoning.WriteString(c.Reasoning)
		} else {
			text.WriteString(c.Content)
		}
	}
	assert.Equal(t, "r1r2", reasoning.String())
	assert.Equal(t, "t1t2", text.String())
}

func TestDemuxStream_Cancellation(t *testing.T) {
	ch := make(chan types.ConverseStreamOutput)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := testBedrockProvider()
	err := p.demuxStream(ctx, ch, func(model.StreamChunk) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBedrockProvider_BuildInput(t *testing.T) {
	p := testBedrockProvider()

	png := []byte("\x89PNG\r\n\x1a\nrest")
	input, err := p.buildInput([]model.Message{
		model.NewSystemMessage("be terse"),
		{Role: model.RoleUser, Content: "look", Images: [][]byte{png}},
		model.NewAssistantMessage("ok"),
	}, 512, 0.3)
	require.NoError(t, err)

	assert.Equal(t, p.cfg.ModelID, *input.ModelId)
	assert.Equal(t, int32(512), *input.InferenceConfig.MaxTokens)
	assert.InDelta(t, 0.3, float64(*input.InferenceConfig.Temperature), 1e-6)

	// System messages go to the dedicated field, not the message list.
	require.Len(t, input.System, 1)
	sys, ok := input.System[0].(*types.SystemContentBlockMemberText)
	require.True(t, ok)
	assert.Equal(t, "be terse", sys.Value)

	require.Len(t, input.Messages, 2)
	assert.Equal(t, types.ConversationRoleUser, input.Messages[0].Role)

	// Text block first, then the sniffed-format image block.
	require.Len(t, input.Messages[0].Content, 2)
	text, ok := input.Messages[0].Content[0].(*types.ContentBlockMemberText)
	require.True(t, ok)
	assert.Equal(t, "look", text.Value)
	img, ok := input.Messages[0].Content[1].(*types.ContentBlockMemberImage)
	require.True(t, ok)
	assert.Equal(t, types.ImageFormatPng, img.Value.Format)
}

func TestBedrockProvider_BuildInput_DocumentPlaceholder(t *testing.T) {
	p := testBedrockProvider()

	input, err := p.buildInput([]model.Message{
		{Role: model.RoleUser, Content: "summarize", Documents: []model.Document{
			{Filename: "report.pdf", Data: []byte("binary")},
		}},
	}, 128, 0.7)
	require.NoError(t, err)

	require.Len(t, input.Messages[0].Content, 2)
	doc, ok := input.Messages[0].Content[1].(*types.ContentBlockMemberText)
	require.True(t, ok)
	assert.Equal(t, "[Document: report.pdf]", doc.Value)
}

func TestBedrockProvider_BuildInput_ReasoningBudget(t *testing.T) {
	p := testBedrockProvider()

	input, err := p.buildInput([]model.Message{model.NewUserMessage("hi")}, 128, 0.7)
	require.NoError(t, err)
	assert.Nil(t, input.AdditionalModelRequestFields)

	p.cfg.SupportsReasoning = true
	p.cfg.ReasoningBudgetTokens = 2048
	input, err = p.buildInput([]model.Message{model.NewUserMessage("hi")}, 128, 0.7)
	require.NoError(t, err)
	assert.NotNil(t, input.AdditionalModelRequestFields)
}

func TestBedrockProvider_BuildInput_NoMessages(t *testing.T) {
	p := testBedrockProvider()
	_, err := p.buildInput([]model.Message{model.NewSystemMessage("only system")}, 128, 0.7)
	require.Error(t, err)
}

func TestBedrockProvider_MapError(t *testing.T) {
	p := testBedrockProvider()

	tests := []struct {
		code string
		want error
	}{
		{"UnrecognizedClientException", ErrAuthentication},
		{"InvalidSignatureException", ErrAuthentication},
		{"AccessDeniedException", ErrAuthentication},
		{"ResourceNotFoundException", ErrAuthentication},
		{"ThrottlingException", ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := p.mapError(&smithy.GenericAPIError{Code: tt.code, Message: "nope"})
			assert.ErrorIs(t, err, tt.want)

			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.code, perr.Code)
			assert.Equal(t, "Claude Sonnet", perr.Model)
		})
	}

	// Unknown API code stays a generic provider error with the code kept.
	err := p.mapError(&smithy.GenericAPIError{Code: "ValidationException", Message: "bad input"})
	assert.NotErrorIs(t, err, ErrAuthentication)
	assert.NotErrorIs(t, err, ErrRateLimited)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "ValidationException", perr.Code)

	// Non-API failures classify as connection trouble.
	assert.ErrorIs(t, p.mapError(context.Canceled), ErrConnection)
	assert.ErrorIs(t, p.mapError(assert.AnError), ErrConnection)
}

func TestBedrockProvider_RequiresModelID(t *testing.T) {
	_, err := NewBedrockProvider(config.ModelConfig{Provider: config.ProviderBedrock, Name: "m"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model_id")
}

func TestBedrockProvider_SupportsFeature(t *testing.T) {
	p := testBedrockProvider()
	assert.True(t, p.SupportsFeature(FeatureImages))
	assert.True(t, p.SupportsFeature(FeatureDocuments))
	assert.False(t, p.SupportsFeature(FeatureReasoning))
	assert.False(t, p.SupportsFeature("telepathy"))

	thinking := &BedrockProvider{
		cfg:    config.ModelConfig{Name: "T", ModelID: "us.anthropic.claude-opus-extended-thinking"},
		logger: testLogger(),
	}
	assert.True(t, thinking.SupportsFeature(FeatureReasoning))

	titan := &BedrockProvider{
		cfg:    config.ModelConfig{Name: "Titan", ModelID: "amazon.titan-text-express-v1"},
		logger: testLogger(),
	}
	assert.False(t, titan.SupportsFeature(FeatureImages))
}

// failingClient fails every converse-stream call with a fixed error.
type failingClient struct{ err error }

func (f failingClient) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, f.err
}

func TestBedrockProvider_StreamChatErrorFromCall(t *testing.T) {
	p := testBedrockProvider()
	p.client = failingClient{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}

	err := p.StreamChat(context.Background(), []model.Message{model.NewUserMessage("hi")}, 128, 0.7, func(model.StreamChunk) {
		t.Fatal("no chunks expected on call failure")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
}

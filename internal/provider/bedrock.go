// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/util"
)

// =============================================================================
// BEDROCK PROVIDER
// =============================================================================

// converseStreamClient is the slice of the Bedrock runtime client the
// adapter uses. Tests substitute a fake.
type converseStreamClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockProvider streams chat responses through the AWS Bedrock
// converse-stream API. Credentials come from the standard AWS resolution
// chain (environment, shared config, instance role); the adapter itself
// never handles secrets.
type BedrockProvider struct {
	cfg    config.ModelConfig
	client converseStreamClient
	logger *slog.Logger
}

// NewBedrockProvider creates the adapter for one configured Bedrock model.
// The region defaults to us-east-1 when unset.
func NewBedrockProvider(cfg config.ModelConfig, logger *slog.Logger) (*BedrockProvider, error) {
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("bedrock provider requires model_id for model %q", cfg.Name)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration for model %q: %w", cfg.Name, err)
	}

	p := &BedrockProvider{
		cfg:    cfg,
		client: bedrockruntime.NewFromConfig(awsCfg),
		logger: logger,
	}

	logger.Info("initialized bedrock provider",
		"name", cfg.Name, "model_id", cfg.ModelID, "region", region)
	return p, nil
}

// StreamChat implements Provider.
func (p *BedrockProvider) StreamChat(ctx context.Context, messages []model.Message, maxTokens int, temperature float64, callback StreamCallback) error {
	input, err := p.buildInput(messages, maxTokens, temperature)
	if err != nil {
		return err
	}

	p.logger.Info("starting converse stream",
		"model_id", p.cfg.ModelID, "messages", len(messages), "max_tokens", maxTokens)

	out, err := p.client.ConverseStream(ctx, input)
	if err != nil {
		return p.mapError(err)
	}

	stream := out.GetStream()
	defer stream.Close()

	if err := p.demuxStream(ctx, stream.Events(), callback); err != nil {
		return err
	}
	if err := stream.Err(); err != nil {
		return p.mapError(err)
	}
	return nil
}

// buildInput assembles the converse-stream request. System messages are
// lifted into the dedicated system field since Bedrock rejects a system
// role inside the message list.
func (p *BedrockProvider) buildInput(messages []model.Message, maxTokens int, temperature float64) (*bedrockruntime.ConverseStreamInput, error) {
	maxTok := int32(maxTokens)
	temp := float32(temperature)

	input := &bedrockruntime.ConverseStreamInput{
		ModelId: &p.cfg.ModelID,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   &maxTok,
			Temperature: &temp,
		},
	}

	for i := range messages {
		msg := &messages[i]

		if msg.Role == model.RoleSystem {
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: msg.Content})
			continue
		}

		input.Messages = append(input.Messages, types.Message{
			Role:    types.ConversationRole(msg.Role.String()),
			Content: p.convertContent(msg),
		})
	}

	if p.cfg.SupportsReasoning && p.cfg.ReasoningBudgetTokens > 0 {
		input.AdditionalModelRequestFields = document.NewLazyDocument(map[string]any{
			"thinking": map[string]any{
				"type":          "enabled",
				"budget_tokens": p.cfg.ReasoningBudgetTokens,
			},
		})
	}

	if len(input.Messages) == 0 {
		return nil, providerError(p.cfg.Name, "no messages to send", nil)
	}
	return input, nil
}

// convertContent builds the content blocks for one message. The text part
// always comes first, followed by image blocks with sniffed formats and
// document placeholders.
func (p *BedrockProvider) convertContent(msg *model.Message) []types.ContentBlock {
	blocks := []types.ContentBlock{
		&types.ContentBlockMemberText{Value: msg.Content},
	}

	for _, img := range msg.Images {
		format := util.DetectImageFormat(img)
		blocks = append(blocks, &types.ContentBlockMemberImage{
			Value: types.ImageBlock{
				Format: types.ImageFormat(format),
				Source: &types.ImageSourceMemberBytes{Value: img},
			},
		})
		p.logger.Debug("added image attachment", "format", format, "size_bytes", len(img))
	}

	for _, doc := range msg.Documents {
		blocks = append(blocks, &types.ContentBlockMemberText{
			Value: fmt.Sprintf("[Document: %s]", doc.Filename),
		})
	}

	return blocks
}

// mapError classifies a Bedrock failure into the shared taxonomy. Vendor
// error codes are preserved on the returned *Error.
func (p *BedrockProvider) mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return connectionError(p.cfg.Name, "stream cancelled", err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		msg := apiErr.ErrorMessage()
		switch code {
		case "UnrecognizedClientException", "InvalidSignatureException":
			p.logger.Error("aws credentials rejected", "code", code)
			e := authError(p.cfg.Name, fmt.Sprintf("AWS credentials rejected: %s", msg), err)
			e.Code = code
			return e
		case "AccessDeniedException", "ResourceNotFoundException":
			p.logger.Error("access denied for model", "code", code, "model_id", p.cfg.ModelID)
			e := authError(p.cfg.Name, fmt.Sprintf("access denied for %s: %s", p.cfg.ModelID, msg), err)
			e.Code = code
			return e
		case "ThrottlingException":
			p.logger.Warn("bedrock throttled request", "code", code)
			e := rateLimitError(p.cfg.Name, fmt.Sprintf("rate limit exceeded for %s", p.cfg.Name), err)
			e.Code = code
			return e
		default:
			p.logger.Error("bedrock api error", "code", code, "message", msg)
			e := providerError(p.cfg.Name, msg, err)
			e.Code = code
			return e
		}
	}

	p.logger.Error("bedrock transport failure", "error", err)
	return connectionError(p.cfg.Name, fmt.Sprintf("cannot reach Bedrock: %v", err), err)
}

// =============================================================================
// FEATURE SUPPORT
// =============================================================================

// SupportsFeature combines the static configuration flags with model-family
// heuristics: Claude models on Bedrock accept images and documents, and
// extended-thinking variants produce reasoning blocks.
func (p *BedrockProvider) SupportsFeature(feature string) bool {
	lower := strings.ToLower(p.cfg.ModelID)
	switch feature {
	case FeatureImages:
		return p.cfg.SupportsImages || strings.Contains(lower, "claude")
	case FeatureDocuments:
		return p.cfg.SupportsDocuments || strings.Contains(lower, "claude")
	case FeatureReasoning:
		return p.cfg.SupportsReasoning || strings.Contains(lower, "extended") || strings.Contains(lower, "thinking")
	default:
		return false
	}
}

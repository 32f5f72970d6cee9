// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/util"
)

// =============================================================================
// HTTP CLIENT
// =============================================================================

const (
	// maxErrorBodySize limits how much of an error response body is read.
	maxErrorBodySize = 64 * 1024

	// connectTimeout bounds connection establishment; the stream itself is
	// controlled via context.
	connectTimeout = 10 * time.Second
)

// sharedStreamingClient is used for all streaming requests. No client
// timeout: a streaming response legitimately stays open for minutes, so
// lifetime is controlled via the request context.
// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: connectTimeout,
	},
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// chatRequest is the OpenAI-style chat completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

// chatMessage carries either a bare string content or a content-part array.
// The two representations are not interchangeable: plain text messages use
// the bare string, attachment-bearing messages use parts.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// contentPart is one element of a multimodal content array.
type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// sseChunk is one parsed completion chunk from the SSE stream.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// =============================================================================
// OPENAI-COMPATIBLE PROVIDER
// =============================================================================

// OpenAIProvider streams chat completions from an OpenAI-protocol-compatible
// HTTP endpoint. Capability is declared via configuration flags, not
// inferred: self-hosted endpoints have no discoverable naming convention.
type OpenAIProvider struct {
	cfg        config.ModelConfig
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIProvider creates the adapter from a model configuration.
// base_url and model are required; a missing API key falls back to a
// placeholder token since local servers usually ignore it.
func NewOpenAIProvider(cfg config.ModelConfig, logger *slog.Logger) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai-compatible provider requires base_url for model %q", cfg.Name)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai-compatible provider requires model for %q", cfg.Name)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "not-needed"
	}

	p := &OpenAIProvider{
		cfg:        cfg,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     apiKey,
		httpClient: sharedStreamingClient,
		logger:     logger,
	}

	logger.Info("initialized openai-compatible provider",
		"name", cfg.Name, "base_url", p.baseURL, "model", p.model)
	return p, nil
}

// StreamChat implements Provider.
func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []model.Message, maxTokens int, temperature float64, callback StreamCallback) error {
	endpoint := p.baseURL + "/chat/completions"

	payload := chatRequest{
		Model:       p.model,
		Messages:    p.convertMessages(messages),
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      true,
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return providerError(p.cfg.Name, fmt.Sprintf("failed to marshal request: %v", err), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return providerError(p.cfg.Name, fmt.Sprintf("failed to create request: %v", err), err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	p.logger.Info("starting chat stream",
		"model", p.model, "messages", len(messages), "max_tokens", maxTokens)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return p.mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.mapStatusError(resp)
	}

	p.logger.Debug("stream started")
	return p.parseSSEStream(ctx, resp.Body, callback)
}

// parseSSEStream reads the response body line by line per the SSE
// convention: blank lines and comment lines (leading ':') are skipped,
// 'data: ' lines carry either the literal [DONE] end marker or one JSON
// completion chunk. Malformed JSON on a data line is logged and skipped.
func (p *OpenAIProvider) parseSSEStream(ctx context.Context, body io.Reader, callback StreamCallback) error {
	reader := bufio.NewReader(body)

	for {
		select {
		case <-ctx.Done():
			return connectionError(p.cfg.Name, "stream cancelled", ctx.Err())
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				p.logger.Debug("stream ended without [DONE] marker")
				return nil
			}
			if ctx.Err() != nil {
				return connectionError(p.cfg.Name, "stream cancelled", ctx.Err())
			}
			return connectionError(p.cfg.Name, fmt.Sprintf("stream read failed: %v", err), err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))

		if data == "[DONE]" {
			p.logger.Debug("received [DONE] marker")
			callback(model.DoneChunk())
			return nil
		}

		var chunk sseChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.logger.Warn("skipping malformed SSE data line", "error", err, "data", util.TruncateRunes(data, 120))
			continue
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			callback(model.TextChunk(choice.Delta.Content))
		}

		if choice.FinishReason != "" {
			p.logger.Debug("stream finished", "finish_reason", choice.FinishReason)
			callback(model.DoneChunk())
			return nil
		}
	}
}

// mapStatusError classifies a non-2xx response received before streaming
// begins.
func (p *OpenAIProvider) mapStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		p.logger.Error("authentication failed", "status", resp.StatusCode)
		return authError(p.cfg.Name, fmt.Sprintf("authentication failed for %s", p.cfg.Name), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		p.logger.Warn("rate limit exceeded", "status", resp.StatusCode)
		return rateLimitError(p.cfg.Name, fmt.Sprintf("rate limit exceeded for %s", p.cfg.Name), nil)
	default:
		p.logger.Error("provider returned error status", "status", resp.StatusCode, "body", util.TruncateRunes(string(body), 200))
		return &Error{
			Model:   p.cfg.Name,
			Message: fmt.Sprintf("provider error: HTTP %d", resp.StatusCode),
		}
	}
}

// mapTransportError classifies a failure establishing the request. A
// timeout gets a distinct message from a refused connection.
func (p *OpenAIProvider) mapTransportError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		p.logger.Error("request timed out", "error", err)
		return connectionError(p.cfg.Name, fmt.Sprintf("request to %s timed out", p.cfg.Name), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return connectionError(p.cfg.Name, fmt.Sprintf("request to %s timed out", p.cfg.Name), err)
	}
	p.logger.Error("connection failed", "error", err)
	return connectionError(p.cfg.Name,
		fmt.Sprintf("cannot connect to %s at %s; is the server running?", p.cfg.Name, p.baseURL), err)
}

// =============================================================================
// MESSAGE TRANSLATION
// =============================================================================

// convertMessages translates conversation history to the OpenAI wire shape.
// System messages and plain text messages use bare string content; messages
// carrying attachments become a content-part array with base64 data-URL
// images and inlined text documents.
func (p *OpenAIProvider) convertMessages(messages []model.Message) []chatMessage {
	converted := make([]chatMessage, 0, len(messages))

	for i := range messages {
		msg := &messages[i]

		if msg.Role == model.RoleSystem || !msg.HasAttachments() {
			converted = append(converted, chatMessage{
				Role:    msg.Role.String(),
				Content: msg.Content,
			})
			continue
		}

		var parts []contentPart

		if msg.Content != "" {
			parts = append(parts, contentPart{Type: "text", Text: msg.Content})
		}

		for _, img := range msg.Images {
			mimeType := util.ImageMIMEType(img)
			dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(img))
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageURL{URL: dataURL},
			})
			p.logger.Debug("added image attachment", "mime_type", mimeType, "size_bytes", len(img))
		}

		for _, doc := range msg.Documents {
			parts = append(parts, contentPart{Type: "text", Text: renderDocument(doc)})
		}

		converted = append(converted, chatMessage{Role: msg.Role.String(), Content: parts})
	}

	return converted
}

// renderDocument inlines plain-text and markdown documents verbatim under a
// [Document: name] header; other document types get the header alone, since
// content extraction is a document-service concern, not a provider concern.
func renderDocument(doc model.Document) string {
	lower := strings.ToLower(doc.Filename)
	if strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".md") {
		return fmt.Sprintf("\n\n[Document: %s]\n%s\n", doc.Filename, string(doc.Data))
	}
	return fmt.Sprintf("\n\n[Document: %s]\n", doc.Filename)
}

// =============================================================================
// FEATURE SUPPORT
// =============================================================================

// SupportsFeature delegates entirely to the static configuration flags on
// the model entry.
func (p *OpenAIProvider) SupportsFeature(feature string) bool {
	switch feature {
	case FeatureImages:
		return p.cfg.SupportsImages
	case FeatureDocuments:
		return p.cfg.SupportsDocuments
	case FeatureReasoning:
		return p.cfg.SupportsReasoning
	default:
		return false
	}
}

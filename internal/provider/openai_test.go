// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openAIConfig(baseURL string) config.ModelConfig {
	return config.ModelConfig{
		Provider: config.ProviderOpenAICompatible,
		Name:     "Test Model",
		BaseURL:  baseURL,
		Model:    "test-model",
	}
}

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer not-needed", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			_, _ = io.WriteString(w, line+"\n\n")
		}
	}))
}

func collectChunks(t *testing.T, p Provider, messages []model.Message) ([]model.StreamChunk, error) {
	t.Helper()
	var chunks []model.StreamChunk
	err := p.StreamChat(context.Background(), messages, 256, 0.7, func(c model.StreamChunk) {
		chunks = append(chunks, c)
	})
	return chunks, err
}

func TestOpenAIProvider_StreamChat(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		`data: {"choices":[{"delta":{"content":" world"}}]}`,
		`data: {"choices":[{"delta":{"content":"!"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	})
	defer srv.Close()

	p, err := NewOpenAIProvider(openAIConfig(srv.URL), testLogger())
	require.NoError(t, err)

	chunks, err := collectChunks(t, p, []model.Message{model.NewUserMessage("hi")})
	require.NoError(t, err)

	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(c.Content)
	}
	assert.Equal(t, "Hello world!", text.String())

	// Exactly one terminal chunk, and it is the last one.
	require.NotEmpty(t, chunks)
	assert.True(t, chunks[len(chunks)-1].Done)
	doneCount := 0
	for _, c := range chunks {
		if c.Done {
			doneCount++
		}
	}
	assert.Equal(t, 1, doneCount)
}

func TestOpenAIProvider_MalformedDataLineSkipped(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: {this is not json`,
		`data: {"choices":[{"delta":{"content":" fine"}}]}`,
		`data: [DONE]`,
	})
	defer srv.Close()

	p, err := NewOpenAIProvider(openAIConfig(srv.URL), testLogger())
	require.NoError(t, err)

	chunks, err := collectChunks(t, p, []model.Message{model.NewUserMessage("hi")})
	require.NoError(t, err)

	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(c.Content)
	}
	assert.Equal(t, "ok fine", text.String())
}

func TestOpenAIProvider_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuthentication},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p, err := NewOpenAIProvider(openAIConfig(srv.URL), testLogger())
			require.NoError(t, err)

			_, err = collectChunks(t, p, []model.Message{model.NewUserMessage("hi")})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "Test Model", perr.Model)
		})
	}
}

func TestOpenAIProvider_GenericStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(openAIConfig(srv.URL), testLogger())
	require.NoError(t, err)

	_, err = collectChunks(t, p, []model.Message{model.NewUserMessage("hi")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthentication)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrConnection)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestOpenAIProvider_ConnectionRefused(t *testing.T) {
	// Grab a port that nothing is listening on.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := srv.URL
	srv.Close()

	p, err := NewOpenAIProvider(openAIConfig(deadURL), testLogger())
	require.NoError(t, err)

	_, err = collectChunks(t, p, []model.Message{model.NewUserMessage("hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Contains(t, err.Error(), "is the server running?")
}

func TestOpenAIProvider_ContextCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(openAIConfig(srv.URL), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		done <- p.StreamChat(ctx, []model.Message{model.NewUserMessage("hi")}, 256, 0.7, func(model.StreamChunk) {})
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConnection)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not abort the stream")
	}
}

func TestOpenAIProvider_ConvertMessages(t *testing.T) {
	p, err := NewOpenAIProvider(openAIConfig("http://localhost:1"), testLogger())
	require.NoError(t, err)

	png := []byte("\x89PNG\r\n\x1a\nrest")
	msgs := []model.Message{
		model.NewSystemMessage("be brief"),
		{
			Role:    model.RoleUser,
			Content: "what is this?",
			Images:  [][]byte{png},
			Documents: []model.Document{
				{Filename: "notes.txt", Data: []byte("some notes")},
			},
		},
	}

	converted := p.convertMessages(msgs)
	require.Len(t, converted, 2)

	// System message stays a bare string.
	assert.Equal(t, "system", converted[0].Role)
	assert.Equal(t, "be brief", converted[0].Content)

	parts, ok := converted[1].Content.([]contentPart)
	require.True(t, ok)
	require.Len(t, parts, 3)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "what is this?", parts[0].Text)
	require.NotNil(t, parts[1].ImageURL)
	assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,"))
	assert.Contains(t, parts[2].Text, "[Document: notes.txt]")
	assert.Contains(t, parts[2].Text, "some notes")
}

func TestOpenAIProvider_RequiresBaseURL(t *testing.T) {
	_, err := NewOpenAIProvider(config.ModelConfig{Name: "m", Model: "x"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestOpenAIProvider_SupportsFeature(t *testing.T) {
	cfg := openAIConfig("http://localhost:1")
	cfg.SupportsImages = true
	p, err := NewOpenAIProvider(cfg, testLogger())
	require.NoError(t, err)

	assert.True(t, p.SupportsFeature(FeatureImages))
	assert.False(t, p.SupportsFeature(FeatureDocuments))
	assert.False(t, p.SupportsFeature(FeatureReasoning))
	assert.False(t, p.SupportsFeature("telepathy"))
}

func TestNew_Dispatch(t *testing.T) {
	p, err := New(openAIConfig("http://localhost:1"), testLogger())
	require.NoError(t, err)
	_, ok := p.(*OpenAIProvider)
	assert.True(t, ok)

	_, err = New(config.ModelConfig{Provider: "azure", Name: "m"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider type")
	assert.Contains(t, err.Error(), string(config.ProviderBedrock))
	assert.Contains(t, err.Error(), string(config.ProviderOpenAICompatible))
}

func TestErrorTaxonomy(t *testing.T) {
	err := rateLimitError("M", "slow down", errors.New("cause"))
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, "M: slow down", err.Error())

	err.Code = "ThrottlingException"
	assert.Equal(t, "M: [ThrottlingException] slow down", err.Error())

	generic := providerError("M", "odd", nil)
	assert.NotErrorIs(t, generic, ErrRateLimited)
	assert.NotErrorIs(t, generic, ErrConnection)
}

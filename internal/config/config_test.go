// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTOML = `
[app]
title = "Test Chat"
default_model = "local"
default_agent = "default"

[logging]
level = "debug"

[storage]
enabled = true
data_directory = "./data"

[models.local]
provider = "openai_compatible"
name = "Local Qwen"
base_url = "http://127.0.0.1:11434/v1"
model = "qwen2.5:7b"
supports_images = true
max_tokens = 2048
temperature = 0.5

[models.claude]
provider = "bedrock"
name = "Claude Sonnet"
model_id = "anthropic.claude-3-5-sonnet-20241022-v2:0"
region = "us-west-2"

[agents.default]
name = "Default"

[agents.researcher]
name = "Researcher"
instructions = "You are a careful researcher."
inject_knowledge_automatically = true

[[agents.researcher.knowledge_sources]]
name = "Docs"
url = "https://example.com/docs"
keywords = ["docs", "manual"]
topics = ["reference"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFile_Valid(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, validTOML))
	require.NoError(t, err)

	assert.Equal(t, "Test Chat", cfg.App.Title)
	assert.Equal(t, "local", cfg.App.DefaultModel)
	assert.Equal(t, "default", cfg.App.DefaultAgent)

	local := cfg.Models["local"]
	assert.Equal(t, ProviderOpenAICompatible, local.Provider)
	assert.Equal(t, "Local Qwen", local.Name)
	assert.True(t, local.SupportsImages)
	assert.Equal(t, 2048, local.MaxTokens)
	assert.Equal(t, 0.5, local.Temperature)

	claude := cfg.Models["claude"]
	assert.Equal(t, ProviderBedrock, claude.Provider)
	assert.Equal(t, "us-west-2", claude.Region)
	// Defaults applied to unspecified fields.
	assert.Equal(t, 4096, claude.MaxTokens)
	assert.Equal(t, 0.7, claude.Temperature)

	researcher := cfg.Agents["researcher"]
	assert.True(t, researcher.InjectKnowledgeAutomatically)
	require.Len(t, researcher.KnowledgeSources, 1)
	assert.Equal(t, "Docs", researcher.KnowledgeSources[0].Name)
	assert.Equal(t, []string{"docs", "manual"}, researcher.KnowledgeSources[0].Keywords)
}

func TestLoadFile_DefaultsApplied(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
[app]
default_model = "m"

[models.m]
provider = "bedrock"
model_id = "anthropic.claude-3-haiku"
`))
	require.NoError(t, err)

	assert.Equal(t, "AI Chat", cfg.App.Title)
	assert.Equal(t, "system", cfg.App.Theme)
	assert.Equal(t, "default", cfg.App.DefaultAgent)
	assert.Contains(t, cfg.Agents, "default")
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "us-east-1", cfg.Models["m"].Region)
	// Model name defaults to its key.
	assert.Equal(t, "m", cfg.Models["m"].Name)
}

func TestLoadFile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		toml    string
		wantErr string
	}{
		{
			name: "unknown default model",
			toml: `
[app]
default_model = "missing"
[models.m]
provider = "bedrock"
model_id = "x"
`,
			wantErr: "default_model",
		},
		{
			name: "bedrock without model_id",
			toml: `
[app]
default_model = "m"
[models.m]
provider = "bedrock"
`,
			wantErr: "model_id",
		},
		{
			name: "openai without base_url",
			toml: `
[app]
default_model = "m"
[models.m]
provider = "openai_compatible"
model = "qwen"
`,
			wantErr: "base_url",
		},
		{
			name: "invalid provider type",
			toml: `
[app]
default_model = "m"
[models.m]
provider = "azure"
`,
			wantErr: "invalid provider type",
		},
		{
			name: "temperature out of range",
			toml: `
[app]
default_model = "m"
[models.m]
provider = "bedrock"
model_id = "x"
temperature = 2.5
`,
			wantErr: "temperature",
		},
		{
			name: "negative max_tokens",
			toml: `
[app]
default_model = "m"
[models.m]
provider = "bedrock"
model_id = "x"
max_tokens = -1
`,
			wantErr: "max_tokens",
		},
		{
			name: "unknown default agent",
			toml: `
[app]
default_model = "m"
default_agent = "ghost"
[models.m]
provider = "bedrock"
model_id = "x"
`,
			wantErr: "default_agent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.toml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_NoConfigFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no configuration file found")
}

func TestSearchPaths_CustomFirst(t *testing.T) {
	paths := SearchPaths("/tmp/custom.toml")
	require.NotEmpty(t, paths)
	assert.Equal(t, "/tmp/custom.toml", paths[0])
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LoggingConfig{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LoggingConfig{Level: "info"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LoggingConfig{Level: "WARN"}.SlogLevel())
	assert.Equal(t, slog.LevelError, LoggingConfig{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LoggingConfig{Level: ""}.SlogLevel())
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, validTOML)

	var reloads atomic.Int32
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	w, err := Watch(path, logger, func(cfg *Config) {
		if cfg.App.Title == "Renamed" {
			reloads.Add(1)
		}
	})
	require.NoError(t, err)
	defer w.Close()

	// Give the watcher a moment to arm before the write.
	time.Sleep(100 * time.Millisecond)

	updated := []byte(`
[app]
title = "Renamed"
default_model = "m"

[models.m]
provider = "bedrock"
model_id = "x"
`)
	require.NoError(t, os.WriteFile(path, updated, 0644))

	require.Eventually(t, func() bool {
		return reloads.Load() >= 1
	}, 5*time.Second, 50*time.Millisecond, "watcher never delivered the reload")
}

func TestWatcher_KeepsPreviousConfigOnBadReload(t *testing.T) {
	path := writeConfig(t, validTOML)

	var reloads atomic.Int32
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	w, err := Watch(path, logger, func(*Config) { reloads.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("this is not toml = ["), 0644))

	// The bad write must not produce a callback.
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, int32(0), reloads.Load())
}

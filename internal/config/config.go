// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// =============================================================================
// PROVIDER TYPE
// =============================================================================

// ProviderType identifies which backend adapter serves a model.
type ProviderType string

const (
	// ProviderBedrock routes requests to AWS Bedrock via the converse-stream
	// API.
	ProviderBedrock ProviderType = "bedrock"

	// ProviderOpenAICompatible routes requests to a local or self-hosted
	// OpenAI-style HTTP endpoint (Ollama, LM Studio, llama.cpp, vLLM).
	ProviderOpenAICompatible ProviderType = "openai_compatible"
)

// SupportedProviders lists the known provider type tags.
func SupportedProviders() []ProviderType {
	return []ProviderType{ProviderBedrock, ProviderOpenAICompatible}
}

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete application configuration.
type Config struct {
	App       AppConfig              `toml:"app"`
	Documents DocumentsConfig        `toml:"documents"`
	Logging   LoggingConfig          `toml:"logging"`
	Storage   StorageConfig          `toml:"storage"`
	Models    map[string]ModelConfig `toml:"models"`
	Agents    map[string]AgentConfig `toml:"agents"`
}

// AppConfig contains general application settings.
type AppConfig struct {
	// Title is the window/application title.
	Title string `toml:"title"`
	// Theme is "dark", "light", or "system".
	Theme string `toml:"theme"`
	// DefaultModel is the model key selected at startup. Required; must
	// exist in Models.
	DefaultModel string `toml:"default_model"`
	// DefaultAgent is the agent key selected at startup. Must exist in
	// Agents when set; defaults to "default".
	DefaultAgent string `toml:"default_agent"`
}

// ModelConfig is the configuration for a single model entry.
type ModelConfig struct {
	// Provider selects the backend adapter: "bedrock" or "openai_compatible".
	Provider ProviderType `toml:"provider"`
	// Name is the human-readable display name, used in log lines and error
	// messages.
	Name string `toml:"name"`

	// Capability flags. The Bedrock adapter ignores these and infers
	// capability from the model identifier; the OpenAI-compatible adapter
	// relies on them entirely.
	SupportsImages    bool `toml:"supports_images"`
	SupportsDocuments bool `toml:"supports_documents"`
	SupportsReasoning bool `toml:"supports_reasoning"`

	// Generation defaults.
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`

	// Bedrock-specific fields.
	ModelID               string `toml:"model_id"`
	Region                string `toml:"region"`
	ReasoningBudgetTokens int    `toml:"reasoning_budget_tokens"`

	// OpenAI-compatible specific fields.
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
}

// AgentConfig is a named bundle of system instructions and optional
// knowledge sources.
type AgentConfig struct {
	Name         string `toml:"name"`
	Instructions string `toml:"instructions"`

	// InjectKnowledgeAutomatically enables relevance-scored knowledge
	// injection into the system prompt.
	InjectKnowledgeAutomatically bool `toml:"inject_knowledge_automatically"`

	KnowledgeSources []KnowledgeSource `toml:"knowledge_sources"`
}

// KnowledgeSource describes one fetchable knowledge reference for an agent.
type KnowledgeSource struct {
	Name     string   `toml:"name"`
	URL      string   `toml:"url"`
	Keywords []string `toml:"keywords"`
	Topics   []string `toml:"topics"`

	// CacheTTLHours controls how long fetched content stays valid.
	// Zero means the default of 24 hours.
	CacheTTLHours int `toml:"cache_ttl_hours"`
}

// DocumentsConfig controls conversation export.
type DocumentsConfig struct {
	DefaultDirectory string `toml:"default_directory"`
	FilenameTemplate string `toml:"filename_template"`
	IncludeMetadata  bool   `toml:"include_metadata"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level"`
	// File is the log file path; empty means stderr only.
	File string `toml:"file"`
}

// StorageConfig controls conversation persistence.
type StorageConfig struct {
	Enabled       bool   `toml:"enabled"`
	DataDirectory string `toml:"data_directory"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// applyDefaults fills in zero-valued fields after decoding.
func (c *Config) applyDefaults() {
	if c.App.Title == "" {
		c.App.Title = "AI Chat"
	}
	if c.App.Theme == "" {
		c.App.Theme = "system"
	}
	if c.App.DefaultAgent == "" {
		c.App.DefaultAgent = "default"
	}
	if c.Agents == nil {
		c.Agents = make(map[string]AgentConfig)
	}
	// A bare "default" agent with no instructions keeps agent selection
	// total even when the config file declares no agents.
	if _, ok := c.Agents["default"]; !ok && c.App.DefaultAgent == "default" {
		c.Agents["default"] = AgentConfig{Name: "Default"}
	}

	if c.Documents.DefaultDirectory == "" {
		c.Documents.DefaultDirectory = "~/Documents/AI-Exports"
	}
	if c.Documents.FilenameTemplate == "" {
		c.Documents.FilenameTemplate = "{title}_{timestamp}.md"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.DataDirectory == "" {
		c.Storage.DataDirectory = "./data"
	}

	for key, m := range c.Models {
		if m.Name == "" {
			m.Name = key
		}
		if m.MaxTokens == 0 {
			m.MaxTokens = 4096
		}
		if m.Temperature == 0 {
			m.Temperature = 0.7
		}
		if m.Provider == ProviderBedrock && m.Region == "" {
			m.Region = "us-east-1"
		}
		c.Models[key] = m
	}

	for key, a := range c.Agents {
		if a.Name == "" {
			a.Name = key
			c.Agents[key] = a
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for errors. The rest of the application
// trusts a validated Config: providers do not re-check temperature ranges or
// required fields at call time.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("config: no models configured")
	}
	if strings.TrimSpace(c.App.DefaultModel) == "" {
		return fmt.Errorf("config: app.default_model cannot be empty")
	}
	if _, ok := c.Models[c.App.DefaultModel]; !ok {
		return fmt.Errorf("config: default_model %q not found in models (available: %s)",
			c.App.DefaultModel, strings.Join(sortedKeys(c.Models), ", "))
	}
	if _, ok := c.Agents[c.App.DefaultAgent]; !ok {
		return fmt.Errorf("config: default_agent %q not found in agents (available: %s)",
			c.App.DefaultAgent, strings.Join(sortedKeys(c.Agents), ", "))
	}

	switch c.App.Theme {
	case "dark", "light", "system":
	default:
		return fmt.Errorf("config: app.theme must be dark, light, or system, got %q", c.App.Theme)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: logging.level %q is not a valid level", c.Logging.Level)
	}

	for key, m := range c.Models {
		if err := m.validate(); err != nil {
			return fmt.Errorf("config: model %q: %w", key, err)
		}
	}

	return nil
}

func (m *ModelConfig) validate() error {
	switch m.Provider {
	case ProviderBedrock:
		if m.ModelID == "" {
			return fmt.Errorf("bedrock models require model_id")
		}
	case ProviderOpenAICompatible:
		if m.BaseURL == "" {
			return fmt.Errorf("openai_compatible models require base_url")
		}
		if m.Model == "" {
			return fmt.Errorf("openai_compatible models require model")
		}
	default:
		return fmt.Errorf("invalid provider type %q (must be %q or %q)",
			m.Provider, ProviderBedrock, ProviderOpenAICompatible)
	}

	if m.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", m.MaxTokens)
	}
	if m.Temperature < 0.0 || m.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0, got %g", m.Temperature)
	}
	return nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// ModelKeys returns the configured model keys, sorted.
func (c *Config) ModelKeys() []string {
	return sortedKeys(c.Models)
}

// AgentKeys returns the configured agent keys, sorted.
func (c *Config) AgentKeys() []string {
	return sortedKeys(c.Agents)
}

// SlogLevel converts the configured logging level to a slog.Level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

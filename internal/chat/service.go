// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/knowledge"
	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/provider"
	"github.com/jeranaias/aichat-tui/internal/storage"
)

// maxKnowledgeSources caps how many knowledge sources feed one prompt.
const maxKnowledgeSources = 3

// KnowledgeFetcher supplies relevant knowledge snippets for a user message.
type KnowledgeFetcher interface {
	FetchRelevantKnowledge(ctx context.Context, text string, agent config.AgentConfig, maxSources int) ([]knowledge.Snippet, error)
}

// =============================================================================
// SERVICE
// =============================================================================

// Service owns conversation state and orchestrates streamed exchanges.
//
// A mutex serializes all state access, including the streaming call itself:
// at most one response streams at a time, and history never interleaves.
type Service struct {
	logger *slog.Logger

	// newProvider builds the adapter for a model config. Tests substitute
	// a fake.
	newProvider func(config.ModelConfig, *slog.Logger) (provider.Provider, error)

	mu             sync.Mutex
	cfg            *config.Config
	store          *storage.Store // nil when storage is disabled
	knowledge      KnowledgeFetcher
	messages       []model.Message
	modelKey       string
	agentKey       string
	conversationID string
	titleSet       bool
}

// NewService creates the service with the configured default model and
// agent selected. store and fetcher may be nil to disable persistence and
// knowledge injection.
func NewService(cfg *config.Config, store *storage.Store, fetcher KnowledgeFetcher, logger *slog.Logger) *Service {
	return &Service{
		logger:      logger,
		newProvider: provider.New,
		cfg:         cfg,
		store:       store,
		knowledge:   fetcher,
		modelKey:    cfg.App.DefaultModel,
		agentKey:    cfg.App.DefaultAgent,
	}
}

// =============================================================================
// SELECTION
// =============================================================================

// SetModel switches the active model. An unknown key is rejected and the
// current selection stands.
func (s *Service) SetModel(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cfg.Models[key]; !ok {
		return &UnknownKeyError{Kind: "model", Key: key, Available: s.cfg.ModelKeys()}
	}
	s.modelKey = key
	s.logger.Info("switched model", "model", key)
	return nil
}

// SetAgent switches the active agent. An unknown key is rejected and the
// current selection stands.
func (s *Service) SetAgent(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cfg.Agents[key]; !ok {
		return &UnknownKeyError{Kind: "agent", Key: key, Available: s.cfg.AgentKeys()}
	}
	s.agentKey = key
	s.logger.Info("switched agent", "agent", key)
	return nil
}

// CurrentModel returns the active model key.
func (s *Service) CurrentModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelKey
}

// CurrentAgent returns the active agent key.
func (s *Service) CurrentAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentKey
}

// ReloadConfig swaps in a new configuration, typically from the config
// watcher. A selection that no longer exists falls back to the new
// defaults; history is untouched.
func (s *Service) ReloadConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	if _, ok := cfg.Models[s.modelKey]; !ok {
		s.logger.Warn("selected model removed by config reload, using default",
			"was", s.modelKey, "now", cfg.App.DefaultModel)
		s.modelKey = cfg.App.DefaultModel
	}
	if _, ok := cfg.Agents[s.agentKey]; !ok {
		s.logger.Warn("selected agent removed by config reload, using default",
			"was", s.agentKey, "now", cfg.App.DefaultAgent)
		s.agentKey = cfg.App.DefaultAgent
	}
}

// =============================================================================
// CONVERSATION LIFECYCLE
// =============================================================================

// NewConversation discards the in-memory history and, when storage is
// enabled, starts a fresh persisted conversation.
func (s *Service) NewConversation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.conversationID = ""
	s.titleSet = false

	if s.store != nil {
		conv, err := s.store.CreateConversation("", s.modelKey, s.agentKey)
		if err != nil {
			return fmt.Errorf("failed to start conversation: %w", err)
		}
		s.conversationID = conv.ID
	}

	s.logger.Info("started new conversation", "id", s.conversationID)
	return nil
}

// LoadConversation replaces the in-memory history with a stored
// conversation, rehydrating attachment bytes from disk.
func (s *Service) LoadConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return fmt.Errorf("storage is disabled")
	}

	conv, err := s.store.GetConversation(id)
	if err != nil {
		return err
	}

	messages := make([]model.Message, 0, len(conv.Messages))
	for _, stored := range conv.Messages {
		msg := model.Message{Role: model.Role(stored.Role), Content: stored.Content}
		for _, att := range stored.Attachments {
			data, err := s.store.LoadAttachmentData(att)
			if err != nil {
				s.logger.Warn("skipping unreadable attachment", "attachment", att.Filename, "error", err)
				continue
			}
			switch att.Kind {
			case "image":
				msg.Images = append(msg.Images, data)
			case "document":
				msg.Documents = append(msg.Documents, model.Document{Filename: att.Filename, Data: data})
			}
		}
		messages = append(messages, msg)
	}

	s.messages = messages
	s.conversationID = conv.ID
	s.titleSet = true
	if _, ok := s.cfg.Models[conv.ModelKey]; ok {
		s.modelKey = conv.ModelKey
	}
	if _, ok := s.cfg.Agents[conv.AgentKey]; ok {
		s.agentKey = conv.AgentKey
	}

	s.logger.Info("loaded conversation", "id", id, "messages", len(messages))
	return nil
}

// ClearHistory discards the in-memory history without touching storage.
func (s *Service) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// History returns a copy of the conversation history.
func (s *Service) History() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// MessageCount returns the number of messages in the history.
func (s *Service) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// ConversationID returns the persisted conversation ID, empty when storage
// is disabled or no conversation has started.
func (s *Service) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// =============================================================================
// STREAMING
// =============================================================================

// StreamResponse runs one full exchange: the user message is validated
// against the model's capabilities, recorded, sent with the assembled
// prompt, and the streamed reply is delivered to callback chunk by chunk.
//
// On success the assistant turn is appended to history with its accumulated
// reasoning. On failure the user turn stays recorded, no assistant turn is
// added, and partial streamed output is discarded from history; the
// callback has already seen whatever arrived before the failure.
func (s *Service) StreamResponse(ctx context.Context, msg model.Message, callback provider.StreamCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	modelCfg, ok := s.cfg.Models[s.modelKey]
	if !ok {
		return &UnknownKeyError{Kind: "model", Key: s.modelKey, Available: s.cfg.ModelKeys()}
	}
	agentCfg := s.cfg.Agents[s.agentKey]

	prov, err := s.newProvider(modelCfg, s.logger)
	if err != nil {
		return err
	}

	// Capability gating happens before any state changes, so a rejected
	// message leaves no trace in history.
	if len(msg.Images) > 0 && !prov.SupportsFeature(provider.FeatureImages) {
		return &CapabilityError{Model: modelCfg.Name, Feature: provider.FeatureImages}
	}
	if len(msg.Documents) > 0 && !prov.SupportsFeature(provider.FeatureDocuments) {
		return &CapabilityError{Model: modelCfg.Name, Feature: provider.FeatureDocuments}
	}

	s.appendMessage(msg, "")

	outgoing := s.buildOutgoing(ctx, msg, agentCfg)

	var content, reasoning strings.Builder
	err = prov.StreamChat(ctx, outgoing, modelCfg.MaxTokens, modelCfg.Temperature, func(chunk model.StreamChunk) {
		if chunk.Content != "" {
			content.WriteString(chunk.Content)
		}
		if chunk.Reasoning != "" {
			reasoning.WriteString(chunk.Reasoning)
		}
		callback(chunk)
	})
	if err != nil {
		s.logger.Error("stream failed", "model", s.modelKey, "error", err)
		return err
	}

	if content.Len() > 0 {
		s.appendMessage(model.NewAssistantMessage(content.String()), reasoning.String())
	}
	return nil
}

// buildOutgoing assembles the message list for the provider: the agent's
// system prompt (instructions plus any relevant knowledge) followed by the
// full history. Knowledge failures are logged and the exchange proceeds
// without the snippets.
func (s *Service) buildOutgoing(ctx context.Context, msg model.Message, agent config.AgentConfig) []model.Message {
	system := agent.Instructions

	if agent.InjectKnowledgeAutomatically && s.knowledge != nil {
		snippets, err := s.knowledge.FetchRelevantKnowledge(ctx, msg.Content, agent, maxKnowledgeSources)
		if err != nil {
			s.logger.Warn("knowledge fetch failed, continuing without it", "error", err)
		} else if len(snippets) > 0 {
			sections := make([]string, len(snippets))
			for i, sn := range snippets {
				sections[i] = fmt.Sprintf("### Reference: %s\n%s", sn.Source, sn.Content)
			}
			system += "\n\n## Relevant Knowledge\n\n" + strings.Join(sections, "\n\n")
			s.logger.Info("injected knowledge", "sources", len(snippets))
		}
	}

	outgoing := make([]model.Message, 0, len(s.messages)+1)
	if strings.TrimSpace(system) != "" {
		outgoing = append(outgoing, model.NewSystemMessage(system))
	}
	outgoing = append(outgoing, s.messages...)
	return outgoing
}

// appendMessage records a turn in memory and, when storage is enabled,
// persists it. The first user message also titles the conversation.
// Persistence failures are logged, not fatal: the conversation continues
// in memory.
func (s *Service) appendMessage(msg model.Message, reasoning string) {
	s.messages = append(s.messages, msg)

	if s.store == nil || s.conversationID == "" {
		return
	}

	if _, err := s.store.AddMessage(s.conversationID, msg, reasoning); err != nil {
		s.logger.Error("failed to persist message", "conversation", s.conversationID, "error", err)
		return
	}

	if !s.titleSet && msg.Role == model.RoleUser {
		title := storage.GenerateTitle(msg.Content)
		if err := s.store.UpdateConversationTitle(s.conversationID, title); err != nil {
			s.logger.Warn("failed to set conversation title", "error", err)
		} else {
			s.titleSet = true
		}
	}
}

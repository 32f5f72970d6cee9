// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package knowledge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// relevanceThreshold is the minimum normalized score for a source to be
	// considered relevant.
	relevanceThreshold = 0.3

	// maxFetchBytes caps how much of a source body is read.
	maxFetchBytes = 1 << 20

	// maxSnippetRunes caps the text injected per source so one verbose page
	// cannot crowd out the conversation.
	maxSnippetRunes = 4000

	fetchTimeout = 15 * time.Second
)

// =============================================================================
// SERVICE
// =============================================================================

// Snippet is one fetched knowledge source ready for prompt injection.
type Snippet struct {
	Source  string
	Content string
}

// scoredSource pairs a source with its relevance score for ranking.
type scoredSource struct {
	source config.KnowledgeSource
	score  float64
}

// Service scores, fetches, and caches agent knowledge sources. Safe for
// concurrent use.
type Service struct {
	cache      *cache
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewService creates the service with its disk cache rooted at cacheDir.
// Fetches are limited to two per second with a small burst, enough for a
// handful of sources without hammering anyone's server.
func NewService(cacheDir string, logger *slog.Logger) *Service {
	return &Service{
		cache:      newCache(cacheDir, logger),
		httpClient: &http.Client{Timeout: fetchTimeout},
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		logger:     logger,
	}
}

// =============================================================================
// RELEVANCE SCORING
// =============================================================================

// CheckRelevance scores a source against message text. Each keyword found
// whole contributes 1.0 and each keyword whose individual words partially
// match contributes 0.5; topics contribute 0.5 and 0.3 the same way. The
// sum is normalized by the number of terms, so the score lands in [0, 1].
// A source with no keywords or topics scores zero.
func (s *Service) CheckRelevance(text string, src config.KnowledgeSource) float64 {
	terms := len(src.Keywords) + len(src.Topics)
	if terms == 0 {
		return 0
	}

	lower := strings.ToLower(text)
	var score float64

	for _, kw := range src.Keywords {
		score += matchTerm(lower, kw, 1.0, 0.5)
	}
	for _, topic := range src.Topics {
		score += matchTerm(lower, topic, 0.5, 0.3)
	}

	return score / float64(terms)
}

// matchTerm awards full weight for a whole-term hit and partial weight when
// any individual word of a multi-word term appears.
func matchTerm(lowerText, term string, full, partial float64) float64 {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return 0
	}
	if strings.Contains(lowerText, term) {
		return full
	}
	for _, word := range strings.Fields(term) {
		if len(word) >= 3 && strings.Contains(lowerText, word) {
			return partial
		}
	}
	return 0
}

// RelevantSources returns the agent's sources scoring at or above the
// relevance threshold, best first.
func (s *Service) RelevantSources(text string, agent config.AgentConfig) []config.KnowledgeSource {
	var scored []scoredSource
	for _, src := range agent.KnowledgeSources {
		if score := s.CheckRelevance(text, src); score >= relevanceThreshold {
			scored = append(scored, scoredSource{source: src, score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	sources := make([]config.KnowledgeSource, len(scored))
	for i, sc := range scored {
		sources[i] = sc.source
	}
	return sources
}

// =============================================================================
// FETCHING
// =============================================================================

// FetchRelevantKnowledge scores the agent's sources against text and
// fetches up to maxSources of the relevant ones. A source that fails to
// fetch is logged and skipped; the remaining sources still contribute.
func (s *Service) FetchRelevantKnowledge(ctx context.Context, text string, agent config.AgentConfig, maxSources int) ([]Snippet, error) {
	sources := s.RelevantSources(text, agent)
	if len(sources) == 0 {
		return nil, nil
	}
	if maxSources > 0 && len(sources) > maxSources {
		sources = sources[:maxSources]
	}

	snippets := make([]Snippet, 0, len(sources))
	for _, src := range sources {
		content, err := s.fetchSource(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return snippets, ctx.Err()
			}
			s.logger.Warn("skipping knowledge source", "source", src.Name, "error", err)
			continue
		}
		snippets = append(snippets, Snippet{Source: src.Name, Content: content})
	}
	return snippets, nil
}

// fetchSource returns the source's text, from cache when fresh.
func (s *Service) fetchSource(ctx context.Context, src config.KnowledgeSource) (string, error) {
	ttl := 24 * time.Hour
	if src.CacheTTLHours > 0 {
		ttl = time.Duration(src.CacheTTLHours) * time.Hour
	}

	if content, ok := s.cache.get(src.URL, ttl); ok {
		s.logger.Debug("knowledge cache hit", "source", src.Name)
		return content, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid source URL %q: %w", src.URL, err)
	}
	req.Header.Set("User-Agent", "aichat-tui/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}

	content := util.TruncateRunes(stripHTML(string(body)), maxSnippetRunes)
	s.cache.put(src.URL, content)

	s.logger.Info("fetched knowledge source",
		"source", src.Name, "bytes", len(body), "kept_runes", util.RuneLen(content))
	return content, nil
}

// =============================================================================
// HTML STRIPPING
// =============================================================================

// stripHTML reduces an HTML page to readable text: script and style blocks
// are dropped whole, tags become spaces, common entities are decoded, and
// whitespace is collapsed. Plain-text bodies pass through untouched apart
// from whitespace normalization.
func stripHTML(s string) string {
	s = dropElement(s, "script")
	s = dropElement(s, "style")

	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	text := b.String()
	replacer := strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'",
	)
	text = replacer.Replace(text)

	return strings.Join(strings.Fields(text), " ")
}

// dropElement removes every <name ...>...</name> block, case-insensitively.
func dropElement(s, name string) string {
	lower := strings.ToLower(s)
	open := "<" + name
	closing := "</" + name + ">"

	var b strings.Builder
	for {
		start := strings.Index(lower, open)
		if start == -1 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.Index(lower[start:], closing)
		if end == -1 {
			b.WriteString(s[:start])
			return b.String()
		}
		b.WriteString(s[:start])
		cut := start + end + len(closing)
		s = s[cut:]
		lower = lower[cut:]
	}
}

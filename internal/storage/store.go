// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when an ID matches no stored
// conversation.
var ErrConversationNotFound = errors.New("conversation not found")

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	model_key  TEXT NOT NULL,
	agent_key  TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	reasoning       TEXT NOT NULL DEFAULT '',
	message_order   INTEGER NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS attachments (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	kind       TEXT NOT NULL,
	filename   TEXT NOT NULL,
	path       TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, message_order);
CREATE INDEX IF NOT EXISTS idx_attachments_message
	ON attachments(message_id);
`

// =============================================================================
// STORED TYPES
// =============================================================================

// Attachment is one stored binary attached to a message. Path is relative
// to the store's attachments directory.
type Attachment struct {
	ID       string
	Kind     string // "image" or "document"
	Filename string
	Path     string
}

// StoredMessage is one persisted message with its attachments.
type StoredMessage struct {
	ID          string
	Role        string
	Content     string
	Reasoning   string
	Order       int
	CreatedAt   time.Time
	Attachments []Attachment
}

// Conversation is a persisted conversation with its ordered messages.
type Conversation struct {
	ID        string
	Title     string
	ModelKey  string
	AgentKey  string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []StoredMessage
}

// ConversationSummary is the listing row: everything but the messages.
type ConversationSummary struct {
	ID           string
	Title        string
	ModelKey     string
	AgentKey     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

// =============================================================================
// STORE
// =============================================================================

// Store persists conversations to SQLite with attachments on disk.
// database/sql serializes access; the store is safe for concurrent use.
type Store struct {
	db             *sql.DB
	attachmentsDir string
	logger         *slog.Logger
}

// Open creates or opens the database at dataDir/conversations.db and
// ensures the schema and attachments directory exist.
func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "conversations.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	attachmentsDir := filepath.Join(dataDir, "attachments")
	if err := os.MkdirAll(attachmentsDir, 0755); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create attachments directory: %w", err)
	}

	logger.Info("opened conversation store", "path", dbPath)
	return &Store{db: db, attachmentsDir: attachmentsDir, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// CONVERSATION OPERATIONS
// =============================================================================

// CreateConversation inserts a new empty conversation. An empty title is
// stored as "New conversation" until the first user message replaces it.
func (s *Store) CreateConversation(title, modelKey, agentKey string) (*Conversation, error) {
	if title == "" {
		title = "New conversation"
	}
	now := time.Now().UTC()

	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		ModelKey:  modelKey,
		AgentKey:  agentKey,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(
		`INSERT INTO conversations (id, title, model_key, agent_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.ModelKey, conv.AgentKey,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "model", modelKey, "agent", agentKey)
	return conv, nil
}

// GetConversation loads a conversation with its messages and attachment
// records, in message order.
func (s *Store) GetConversation(id string) (*Conversation, error) {
	conv := &Conversation{ID: id}
	var created, updated string

	err := s.db.QueryRow(
		`SELECT title, model_key, agent_key, created_at, updated_at
		 FROM conversations WHERE id = ?`, id,
	).Scan(&conv.Title, &conv.ModelKey, &conv.AgentKey, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.CreatedAt = parseTime(created)
	conv.UpdatedAt = parseTime(updated)

	rows, err := s.db.Query(
		`SELECT id, role, content, reasoning, message_order, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY message_order`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg StoredMessage
		var msgCreated string
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.Reasoning, &msg.Order, &msgCreated); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.CreatedAt = parseTime(msgCreated)
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	for i := range conv.Messages {
		if err := s.loadAttachments(&conv.Messages[i]); err != nil {
			return nil, err
		}
	}
	return conv, nil
}

func (s *Store) loadAttachments(msg *StoredMessage) error {
	rows, err := s.db.Query(
		`SELECT id, kind, filename, path FROM attachments WHERE message_id = ? ORDER BY id`, msg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to load attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var att Attachment
		if err := rows.Scan(&att.ID, &att.Kind, &att.Filename, &att.Path); err != nil {
			return fmt.Errorf("failed to scan attachment: %w", err)
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return rows.Err()
}

// ListConversations returns summaries of all conversations, most recently
// updated first.
func (s *Store) ListConversations() ([]ConversationSummary, error) {
	rows, err := s.db.Query(
		`SELECT c.id, c.title, c.model_key, c.agent_key, c.created_at, c.updated_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		 FROM conversations c ORDER BY c.updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var summaries []ConversationSummary
	for rows.Next() {
		var sum ConversationSummary
		var created, updated string
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.ModelKey, &sum.AgentKey, &created, &updated, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		sum.CreatedAt = parseTime(created)
		sum.UpdatedAt = parseTime(updated)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// DeleteConversation removes a conversation, its messages and attachment
// rows via cascade, and its attachment files.
func (s *Store) DeleteConversation(id string) error {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}

	// Attachment files live under one directory per conversation.
	dir := filepath.Join(s.attachmentsDir, id)
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("failed to remove attachment files", "conversation", id, "error", err)
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// UpdateConversationTitle renames a conversation.
func (s *Store) UpdateConversationTitle(id, title string) error {
	res, err := s.db.Exec(
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// AddMessage appends a message to a conversation and returns the stored
// message ID. Attachment bytes are written to disk first, atomically, so
// the database row never references a missing file.
func (s *Store) AddMessage(conversationID string, msg model.Message, reasoning string) (string, error) {
	var order int
	err := s.db.QueryRow(
		`SELECT COALESCE(MAX(message_order), -1) + 1 FROM messages WHERE conversation_id = ?`,
		conversationID,
	).Scan(&order)
	if err != nil {
		return "", fmt.Errorf("failed to determine message order: %w", err)
	}

	msgID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	attachments, err := s.writeAttachmentFiles(conversationID, msgID, &msg)
	if err != nil {
		return "", err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, reasoning, message_order, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msgID, conversationID, msg.Role.String(), msg.Content, reasoning, order, now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}

	for _, att := range attachments {
		_, err = tx.Exec(
			`INSERT INTO attachments (id, message_id, kind, filename, path, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			att.ID, msgID, att.Kind, att.Filename, att.Path, now,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert attachment: %w", err)
		}
	}

	_, err = tx.Exec(
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit message: %w", err)
	}
	return msgID, nil
}

// writeAttachmentFiles persists a message's binaries under
// attachments/<conversation>/<message>-<n>.<ext> and returns their records.
func (s *Store) writeAttachmentFiles(conversationID, msgID string, msg *model.Message) ([]Attachment, error) {
	if !msg.HasAttachments() {
		return nil, nil
	}

	dir := filepath.Join(s.attachmentsDir, conversationID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}

	var attachments []Attachment
	n := 0

	for _, img := range msg.Images {
		ext := util.DetectImageFormat(img)
		filename := fmt.Sprintf("%s-%d.%s", msgID, n, ext)
		relPath := filepath.Join(conversationID, filename)
		if err := util.AtomicWriteFile(filepath.Join(dir, filename), img, 0644); err != nil {
			return nil, fmt.Errorf("failed to write image attachment: %w", err)
		}
		attachments = append(attachments, Attachment{
			ID: uuid.NewString(), Kind: "image", Filename: filename, Path: relPath,
		})
		n++
	}

	for _, doc := range msg.Documents {
		filename := fmt.Sprintf("%s-%d-%s", msgID, n, filepath.Base(doc.Filename))
		relPath := filepath.Join(conversationID, filename)
		if err := util.AtomicWriteFile(filepath.Join(dir, filename), doc.Data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write document attachment: %w", err)
		}
		attachments = append(attachments, Attachment{
			ID: uuid.NewString(), Kind: "document", Filename: doc.Filename, Path: relPath,
		})
		n++
	}

	return attachments, nil
}

// LoadAttachmentData reads an attachment's bytes back from disk.
func (s *Store) LoadAttachmentData(att Attachment) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.attachmentsDir, att.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", att.Filename, err)
	}
	return data, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// GenerateTitle derives a conversation title from the first user message:
// at most 50 characters, cut at a word boundary, newlines flattened.
func GenerateTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "New conversation"
	}

	runes := []rune(text)
	if len(runes) <= 50 {
		return text
	}

	cut := string(runes[:50])
	if idx := strings.LastIndex(cut, " "); idx > 20 {
		cut = cut[:idx]
	}
	return cut + "..."
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

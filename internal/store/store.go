// Package store implements ConversationStore: SQLite-backed persistence for
// conversations and messages, with a one-shot migration path from a legacy
// JSON history directory.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/openclaw/flux/pkg/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// Store persists conversations and messages in SQLite (WAL + foreign keys).
type Store struct {
	db *sql.DB

	stmtCreateConv   *sql.Stmt
	stmtTouchConv    *sql.Stmt
	stmtGetConv      *sql.Stmt
	stmtDeleteConv   *sql.Stmt
	stmtAppendMsg    *sql.Stmt
	stmtGetMessages  *sql.Stmt
}

// Open opens (creating if absent) the conversation database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	interface TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT 'default',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	metadata_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_conv_iface_updated ON conversations(interface, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_conv_updated ON conversations(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_conv_user_updated ON conversations(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content_json TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_msg_conv_created ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS conversation_tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	tag TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE(conversation_id, tag)
);

CREATE TABLE IF NOT EXISTS migration_markers (
	name TEXT PRIMARY KEY,
	completed_at TIMESTAMP NOT NULL
);
`)
	return err
}

func (s *Store) prepareStatements() error {
	var err error
	if s.stmtCreateConv, err = s.db.Prepare(`
INSERT INTO conversations (id, interface, user_id, created_at, updated_at, metadata_json)
VALUES (?, ?, ?, ?, ?, ?)`); err != nil {
		return fmt.Errorf("prepare create conversation: %w", err)
	}
	if s.stmtTouchConv, err = s.db.Prepare(`UPDATE conversations SET updated_at = ? WHERE id = ?`); err != nil {
		return fmt.Errorf("prepare touch conversation: %w", err)
	}
	if s.stmtGetConv, err = s.db.Prepare(`
SELECT id, interface, user_id, created_at, updated_at, metadata_json
FROM conversations WHERE id = ?`); err != nil {
		return fmt.Errorf("prepare get conversation: %w", err)
	}
	if s.stmtDeleteConv, err = s.db.Prepare(`DELETE FROM conversations WHERE id = ?`); err != nil {
		return fmt.Errorf("prepare delete conversation: %w", err)
	}
	if s.stmtAppendMsg, err = s.db.Prepare(`
INSERT INTO messages (conversation_id, role, content_json, token_count, created_at)
VALUES (?, ?, ?, ?, ?)`); err != nil {
		return fmt.Errorf("prepare append message: %w", err)
	}
	if s.stmtGetMessages, err = s.db.Prepare(`
SELECT id, conversation_id, role, content_json, token_count, created_at
FROM messages WHERE conversation_id = ? ORDER BY created_at ASC LIMIT ? OFFSET ?`); err != nil {
		return fmt.Errorf("prepare get messages: %w", err)
	}
	return nil
}

// Close closes the prepared statements and the underlying handle.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtCreateConv, s.stmtTouchConv, s.stmtGetConv, s.stmtDeleteConv, s.stmtAppendMsg, s.stmtGetMessages} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// DB exposes the underlying handle so peer stores (search, tags) can share
// the same database file.
func (s *Store) DB() *sql.DB { return s.db }

// CreateConversation inserts a new conversation, defaulting userID to
// "default" when empty.
func (s *Store) CreateConversation(ctx context.Context, iface, userID string, metadata map[string]any) (*models.Conversation, error) {
	if userID == "" {
		userID = "default"
	}
	now := time.Now()
	metaJSON, err := encodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		Interface: iface,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}
	if _, err := s.stmtCreateConv.ExecContext(ctx, conv.ID, conv.Interface, conv.UserID, conv.CreatedAt, conv.UpdatedAt, metaJSON); err != nil {
		return nil, err
	}
	return conv, nil
}

func encodeMetadata(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// GetConversation fetches a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.stmtGetConv.QueryRowContext(ctx, id)
	return scanConversation(row)
}

func scanConversation(row *sql.Row) (*models.Conversation, error) {
	var c models.Conversation
	var metaJSON sql.NullString
	if err := row.Scan(&c.ID, &c.Interface, &c.UserID, &c.CreatedAt, &c.UpdatedAt, &metaJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &c.Metadata); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// AddMessage serialises content per SPEC_FULL.md's encoding rule and inserts
// the row, bumping the parent conversation's updated_at in the same call.
func (s *Store) AddMessage(ctx context.Context, convID string, role models.Role, content []models.ContentBlock, tokenCount int) (*models.Message, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	res, err := s.stmtAppendMsg.ExecContext(ctx, convID, string(role), string(data), tokenCount, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := s.stmtTouchConv.ExecContext(ctx, now, convID); err != nil {
		return nil, err
	}
	return &models.Message{
		ID:             fmt.Sprintf("%d", id),
		ConversationID: convID,
		Role:           role,
		Content:        content,
		TokenCount:     tokenCount,
		CreatedAt:      now,
	}, nil
}

// GetMessages returns a page of messages for convID in chronological order.
func (s *Store) GetMessages(ctx context.Context, convID string, limit, offset int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.stmtGetMessages.QueryContext(ctx, convID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var id int64
		var role, contentJSON string
		if err := rows.Scan(&id, &m.ConversationID, &role, &contentJSON, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ID = fmt.Sprintf("%d", id)
		m.Role = models.Role(role)
		if err := json.Unmarshal([]byte(contentJSON), &m.Content); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListFilter narrows ListConversations by interface and/or user.
type ListFilter struct {
	Interface string
	UserID    string
	Limit     int
}

// ListConversations returns conversations ordered by most-recently-updated,
// optionally filtered by interface and/or user.
func (s *Store) ListConversations(ctx context.Context, f ListFilter) ([]models.Conversation, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, interface, user_id, created_at, updated_at, metadata_json FROM conversations WHERE 1=1`
	var args []any
	if f.Interface != "" {
		query += ` AND interface = ?`
		args = append(args, f.Interface)
	}
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var metaJSON sql.NullString
		if err := rows.Scan(&c.ID, &c.Interface, &c.UserID, &c.CreatedAt, &c.UpdatedAt, &metaJSON); err != nil {
			return nil, err
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &c.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation; messages and tags cascade via FK.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.stmtDeleteConv.ExecContext(ctx, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// historyEntry mirrors the legacy JSON history file shape: one file per
// conversation, an ordered list of role/content/timestamp records.
type historyEntry struct {
	Role      string    `json:"role"`
	Content   any       `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MigrateFromHistoryDir reads every `*.json` file in dir once, each
// representing one conversation's message list, and inserts them into the
// relational store. It is idempotent: a completion marker row prevents a
// second run from re-importing.
func (s *Store) MigrateFromHistoryDir(ctx context.Context, dir, iface string) (int, error) {
	const marker = "history_dir_import"
	var done int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM migration_markers WHERE name = ?`, marker)
	if err := row.Scan(&done); err != nil {
		return 0, err
	}
	if done > 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, s.markMigrationDone(ctx, marker)
		}
		return 0, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	imported := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return imported, err
		}
		var history []historyEntry
		if err := json.Unmarshal(data, &history); err != nil {
			return imported, fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		convID := strings.TrimSuffix(entry.Name(), ".json")
		if err := s.importHistoryFile(ctx, convID, iface, history); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, s.markMigrationDone(ctx, marker)
}

func (s *Store) importHistoryFile(ctx context.Context, convID, iface string, history []historyEntry) error {
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO conversations (id, interface, user_id, created_at, updated_at, metadata_json)
VALUES (?, ?, 'default', ?, ?, NULL)
ON CONFLICT(id) DO NOTHING`, convID, iface, now, now); err != nil {
		return err
	}
	for _, h := range history {
		serialised := serialiseContent(h.Content)
		ts := h.Timestamp
		if ts.IsZero() {
			ts = now
		}
		if _, err := s.db.ExecContext(ctx, `
INSERT INTO messages (conversation_id, role, content_json, token_count, created_at)
VALUES (?, ?, ?, 0, ?)`, convID, h.Role, serialised, ts); err != nil {
			return err
		}
	}
	return nil
}

// serialiseContent encodes a legacy-history content value: a string is
// stored as a one-element list holding a single text block, not as a bare
// JSON string; lists/maps are JSON-encoded as-is; anything else is
// stringified via fmt.Sprint into a single text block.
func serialiseContent(content any) string {
	switch v := content.(type) {
	case string:
		blocks := []models.ContentBlock{{Type: models.BlockText, Text: v}}
		data, _ := json.Marshal(blocks)
		return string(data)
	case []any, map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return "[]"
		}
		return string(data)
	default:
		blocks := []models.ContentBlock{{Type: models.BlockText, Text: fmt.Sprint(v)}}
		data, _ := json.Marshal(blocks)
		return string(data)
	}
}

func (s *Store) markMigrationDone(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO migration_markers (name, completed_at) VALUES (?, ?)
ON CONFLICT(name) DO NOTHING`, name, time.Now())
	return err
}

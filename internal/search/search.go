// Package search implements SearchIndex: full-text search over stored
// messages with an FTS5 virtual table when available, a LIKE fallback
// otherwise, and a peer tag manager over the same database.
package search

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// Hit is one search result: the owning conversation, the matched message,
// a relevance rank (BM25 when FTS5 is active, 0.0 under the LIKE fallback),
// and an extracted snippet.
type Hit struct {
	ConversationID string
	MessageID      int64
	Content        string
	Rank           float64
	Snippet        string
	CreatedAt      time.Time
}

// Index wraps a *sql.DB shared with the ConversationStore (same file,
// messages table already present) and adds full-text search plus tagging.
type Index struct {
	db        *sql.DB
	ftsActive bool
}

// Open probes FTS5 availability against db and wires sync triggers when
// present; on any failure it silently falls back to LIKE search, matching
// spec §4.8's "probe at startup" rule.
func Open(db *sql.DB) (*Index, error) {
	idx := &Index{db: db}
	if err := idx.tryEnableFTS(); err != nil {
		idx.ftsActive = false
	}
	if err := idx.migrateTags(); err != nil {
		return nil, err
	}
	return idx, nil
}

// FTSActive reports whether the FTS5 virtual table is in use.
func (idx *Index) FTSActive() bool { return idx.ftsActive }

func (idx *Index) tryEnableFTS() error {
	_, err := idx.db.Exec(`
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	content,
	content=messages,
	content_rowid=id
);`)
	if err != nil {
		return err
	}

	for _, stmt := range []string{
		`CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content_json);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, content) VALUES('delete', old.id, old.content_json);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, content) VALUES('delete', old.id, old.content_json);
			INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content_json);
		END;`,
	} {
		if _, err := idx.db.Exec(stmt); err != nil {
			return err
		}
	}

	idx.ftsActive = true
	return nil
}

func (idx *Index) migrateTags() error {
	_, err := idx.db.Exec(`
CREATE TABLE IF NOT EXISTS conversation_tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	tag TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE(conversation_id, tag)
);`)
	return err
}

// Search runs a full-text query, returning hits ordered by relevance (FTS5
// active) or recency (LIKE fallback), each carrying an extracted snippet.
func (idx *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	if idx.ftsActive {
		return idx.searchFTS(ctx, query, limit)
	}
	return idx.searchLike(ctx, query, limit)
}

func (idx *Index) searchFTS(ctx context.Context, query string, limit int) ([]Hit, error) {
	rows, err := idx.db.QueryContext(ctx, `
SELECT m.id, m.conversation_id, m.content_json, m.created_at, bm25(messages_fts) AS rank
FROM messages_fts
JOIN messages m ON m.id = messages_fts.rowid
WHERE messages_fts MATCH ?
ORDER BY rank
LIMIT ?`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var bm25 float64
		if err := rows.Scan(&h.MessageID, &h.ConversationID, &h.Content, &h.CreatedAt, &bm25); err != nil {
			return nil, err
		}
		// bm25() in SQLite returns a score where lower is better; the spec
		// wants the absolute value surfaced as rank.
		if bm25 < 0 {
			bm25 = -bm25
		}
		h.Rank = bm25
		h.Snippet = extractSnippet(h.Content, query)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (idx *Index) searchLike(ctx context.Context, query string, limit int) ([]Hit, error) {
	rows, err := idx.db.QueryContext(ctx, `
SELECT id, conversation_id, content_json, created_at
FROM messages
WHERE content_json LIKE '%' || ? || '%'
ORDER BY created_at DESC
LIMIT ?`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.MessageID, &h.ConversationID, &h.Content, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Rank = 0.0
		h.Snippet = extractSnippet(h.Content, query)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// extractSnippet returns a ±100 character window around the first
// case-insensitive occurrence of query in content, ellipsised at truncation
// boundaries; if query is not found, the first 200 characters.
func extractSnippet(content, query string) string {
	const window = 100
	const fallbackLen = 200

	lowerContent := strings.ToLower(content)
	lowerQuery := strings.ToLower(query)
	idxPos := strings.Index(lowerContent, lowerQuery)
	if idxPos < 0 {
		if len(content) <= fallbackLen {
			return content
		}
		return content[:fallbackLen] + "..."
	}

	start := idxPos - window
	prefixEllipsis := start > 0
	if start < 0 {
		start = 0
	}
	end := idxPos + len(query) + window
	suffixEllipsis := end < len(content)
	if end > len(content) {
		end = len(content)
	}

	snippet := content[start:end]
	if prefixEllipsis {
		snippet = "..." + snippet
	}
	if suffixEllipsis {
		snippet = snippet + "..."
	}
	return snippet
}

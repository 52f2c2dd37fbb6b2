package search

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "search.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		t.Fatal(err)
	}
	_, err = db.Exec(`
CREATE TABLE conversations (
	id TEXT PRIMARY KEY,
	interface TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT 'default',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	metadata_json TEXT
);
CREATE TABLE messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content_json TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);`)
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func insertMessage(t *testing.T, db *sql.DB, convID, content string) {
	t.Helper()
	now := time.Now()
	if _, err := db.Exec(`
INSERT INTO conversations (id, interface, user_id, created_at, updated_at, metadata_json)
VALUES (?, 'cli', 'default', ?, ?, NULL)
ON CONFLICT(id) DO NOTHING`, convID, now, now); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`
INSERT INTO messages (conversation_id, role, content_json, token_count, created_at)
VALUES (?, 'user', ?, 0, ?)`, convID, content, now); err != nil {
		t.Fatal(err)
	}
}

func TestSearch_FindsSubstring(t *testing.T) {
	db := newTestDB(t)
	idx, err := Open(db)
	if err != nil {
		t.Fatal(err)
	}
	insertMessage(t, db, "conv-1", "the quick brown fox jumps over the lazy dog")
	insertMessage(t, db, "conv-2", "completely unrelated content")

	hits, err := idx.Search(context.Background(), "fox", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ConversationID != "conv-1" {
		t.Fatalf("unexpected hits: %+v (ftsActive=%v)", hits, idx.FTSActive())
	}
}

func TestSearch_LikeFallbackOrdersByRecency(t *testing.T) {
	db := newTestDB(t)
	idx := &Index{db: db, ftsActive: false}
	if err := idx.migrateTags(); err != nil {
		t.Fatal(err)
	}
	insertMessage(t, db, "conv-1", "alpha needle beta")
	time.Sleep(10 * time.Millisecond)
	insertMessage(t, db, "conv-2", "gamma needle delta")

	hits, err := idx.Search(context.Background(), "needle", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ConversationID != "conv-2" {
		t.Fatalf("expected most recent first, got %+v", hits)
	}
	if hits[0].Rank != 0.0 {
		t.Fatalf("expected rank 0.0 under LIKE fallback, got %v", hits[0].Rank)
	}
}

func TestExtractSnippet_WindowAroundMatch(t *testing.T) {
	content := "0123456789needle9876543210" + string(make([]byte, 300))
	snippet := extractSnippet(content, "needle")
	if snippet == "" {
		t.Fatal("expected non-empty snippet")
	}
}

func TestExtractSnippet_NotFoundFallsBackToPrefix(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "0123456789"
	}
	snippet := extractSnippet(long, "missing")
	if len(snippet) != 203 { // 200 chars + "..."
		t.Fatalf("expected 200-char prefix plus ellipsis, got len=%d", len(snippet))
	}
}

func TestAddTag_DistinguishesNewFromExisting(t *testing.T) {
	db := newTestDB(t)
	idx, err := Open(db)
	if err != nil {
		t.Fatal(err)
	}
	insertMessage(t, db, "conv-1", "hello")

	res, err := idx.AddTag(context.Background(), "conv-1", "  Important ")
	if err != nil {
		t.Fatal(err)
	}
	if !res.WasNew || res.Tag != "important" {
		t.Fatalf("expected new normalised tag, got %+v", res)
	}

	res, err = idx.AddTag(context.Background(), "conv-1", "important")
	if err != nil {
		t.Fatal(err)
	}
	if res.WasNew {
		t.Fatal("expected duplicate tag to report WasNew=false")
	}
}

func TestAddTag_EmptyRejected(t *testing.T) {
	db := newTestDB(t)
	idx, err := Open(db)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := idx.AddTag(context.Background(), "conv-1", "   "); err != ErrEmptyTag {
		t.Fatalf("expected ErrEmptyTag, got %v", err)
	}
}

func TestTagLifecycle(t *testing.T) {
	db := newTestDB(t)
	idx, err := Open(db)
	if err != nil {
		t.Fatal(err)
	}
	insertMessage(t, db, "conv-1", "hello")
	insertMessage(t, db, "conv-2", "world")

	if _, err := idx.AddTag(context.Background(), "conv-1", "work"); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.AddTag(context.Background(), "conv-2", "work"); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.AddTag(context.Background(), "conv-1", "urgent"); err != nil {
		t.Fatal(err)
	}

	tags, err := idx.GetTags(context.Background(), "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %+v", tags)
	}

	all, err := idx.ListAllTags(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 distinct tags, got %+v", all)
	}

	withWork, err := idx.FindByTag(context.Background(), "work")
	if err != nil {
		t.Fatal(err)
	}
	if len(withWork) != 2 {
		t.Fatalf("expected 2 conversations tagged 'work', got %+v", withWork)
	}

	if err := idx.RemoveTag(context.Background(), "conv-1", "urgent"); err != nil {
		t.Fatal(err)
	}
	tags, err = idx.GetTags(context.Background(), "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 || tags[0] != "work" {
		t.Fatalf("expected only 'work' tag remaining, got %+v", tags)
	}
}

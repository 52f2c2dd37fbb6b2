package search

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

var ErrEmptyTag = errors.New("tag must not be empty")

// AddTagResult distinguishes a newly-inserted tag from one that already
// existed, per spec §4.8.
type AddTagResult struct {
	Tag    string
	WasNew bool
}

// normaliseTag lowercases and trims a tag, the canonical form stored and
// compared against.
func normaliseTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// AddTag attaches tag to a conversation, normalising it first. If the tag
// is already present the call is a no-op and WasNew is false.
func (idx *Index) AddTag(ctx context.Context, conversationID, tag string) (AddTagResult, error) {
	norm := normaliseTag(tag)
	if norm == "" {
		return AddTagResult{}, ErrEmptyTag
	}
	res, err := idx.db.ExecContext(ctx, `
INSERT INTO conversation_tags (conversation_id, tag, created_at)
VALUES (?, ?, ?)
ON CONFLICT(conversation_id, tag) DO NOTHING`, conversationID, norm, time.Now())
	if err != nil {
		return AddTagResult{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return AddTagResult{}, err
	}
	return AddTagResult{Tag: norm, WasNew: n > 0}, nil
}

// RemoveTag detaches tag from a conversation; a no-op if absent.
func (idx *Index) RemoveTag(ctx context.Context, conversationID, tag string) error {
	_, err := idx.db.ExecContext(ctx, `
DELETE FROM conversation_tags WHERE conversation_id = ? AND tag = ?`, conversationID, normaliseTag(tag))
	return err
}

// GetTags lists every tag attached to a conversation, lexically sorted.
func (idx *Index) GetTags(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := idx.db.QueryContext(ctx, `
SELECT tag FROM conversation_tags WHERE conversation_id = ? ORDER BY tag ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTagList(rows)
}

// ListAllTags returns the distinct set of tags across every conversation.
func (idx *Index) ListAllTags(ctx context.Context) ([]string, error) {
	rows, err := idx.db.QueryContext(ctx, `
SELECT DISTINCT tag FROM conversation_tags ORDER BY tag ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTagList(rows)
}

func scanTagList(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

// FindByTag returns the IDs of conversations carrying tag.
func (idx *Index) FindByTag(ctx context.Context, tag string) ([]string, error) {
	rows, err := idx.db.QueryContext(ctx, `
SELECT conversation_id FROM conversation_tags WHERE tag = ? ORDER BY created_at ASC`, normaliseTag(tag))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

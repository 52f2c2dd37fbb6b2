// Package webhook implements WebhookStore and WebhookDispatcher: SQLite-
// backed webhook registration plus signed, retried HTTP delivery to
// subscribers (spec §4.12, grounded on original_source/openclaw/webhook.py).
package webhook

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/openclaw/flux/pkg/models"
)

var ErrWebhookNotFound = errors.New("webhook not found")

// Store persists webhooks and their delivery history in SQLite.
type Store struct {
	db *sql.DB

	stmtInsert              *sql.Stmt
	stmtListActive          *sql.Stmt
	stmtGet                 *sql.Stmt
	stmtDeactivate          *sql.Stmt
	stmtActiveForEvent      *sql.Stmt
	stmtRecordDelivery      *sql.Stmt
	stmtIncrementFailure    *sql.Stmt
	stmtDeactivateOverLimit *sql.Stmt
	stmtResetFailure        *sql.Stmt
}

// Open opens (creating if absent) the webhook database at path.
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
CREATE TABLE IF NOT EXISTS webhooks (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	url TEXT NOT NULL,
	events_json TEXT NOT NULL DEFAULT '[]',
	secret TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	failure_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_webhooks_user ON webhooks(user_id);
CREATE INDEX IF NOT EXISTS idx_webhooks_active ON webhooks(is_active);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	webhook_id TEXT NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
	event_type TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	response_status INTEGER,
	response_body TEXT DEFAULT '',
	attempt INTEGER NOT NULL DEFAULT 1,
	delivered_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON webhook_deliveries(webhook_id, delivered_at DESC);
`)
	return err
}

func (s *Store) prepareStatements() error {
	var err error
	prep := func(dst **sql.Stmt, query string) {
		if err != nil {
			return
		}
		*dst, err = s.db.Prepare(query)
	}
	prep(&s.stmtInsert, `INSERT INTO webhooks (id, user_id, url, events_json, secret, is_active, failure_count, max_retries, created_at, updated_at) VALUES (?, ?, ?, ?, ?, 1, 0, 3, ?, ?)`)
	prep(&s.stmtListActive, `SELECT id, user_id, url, events_json, secret, is_active, failure_count, max_retries, created_at FROM webhooks WHERE user_id = ? AND is_active = 1 ORDER BY created_at DESC`)
	prep(&s.stmtGet, `SELECT id, user_id, url, events_json, secret, is_active, failure_count, max_retries, created_at FROM webhooks WHERE id = ?`)
	prep(&s.stmtDeactivate, `UPDATE webhooks SET is_active = 0, updated_at = ? WHERE id = ? AND user_id = ? AND is_active = 1`)
	prep(&s.stmtActiveForEvent, `SELECT id, user_id, url, events_json, secret, is_active, failure_count, max_retries, created_at FROM webhooks WHERE is_active = 1`)
	prep(&s.stmtRecordDelivery, `INSERT INTO webhook_deliveries (webhook_id, event_type, payload_json, response_status, response_body, attempt, delivered_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	prep(&s.stmtIncrementFailure, `UPDATE webhooks SET failure_count = failure_count + 1, updated_at = ? WHERE id = ?`)
	prep(&s.stmtDeactivateOverLimit, `UPDATE webhooks SET is_active = 0, updated_at = ? WHERE id = ? AND failure_count > max_retries`)
	prep(&s.stmtResetFailure, `UPDATE webhooks SET failure_count = 0, updated_at = ? WHERE id = ?`)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create registers a new webhook, generating a random hex secret when secret
// is empty.
func (s *Store) Create(ctx context.Context, userID, url string, events []string, secret string) (*models.Webhook, error) {
	if secret == "" {
		var err error
		secret, err = randomSecret()
		if err != nil {
			return nil, err
		}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	hook := &models.Webhook{
		ID:         uuid.NewString(),
		UserID:     userID,
		URL:        url,
		Events:     events,
		Secret:     secret,
		IsActive:   true,
		MaxRetries: 3,
		CreatedAt:  now,
	}
	_, err = s.stmtInsert.ExecContext(ctx, hook.ID, userID, url, string(eventsJSON), secret, now, now)
	if err != nil {
		return nil, err
	}
	return hook, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// List returns a user's active webhooks, most recently created first.
func (s *Store) List(ctx context.Context, userID string) ([]models.Webhook, error) {
	rows, err := s.stmtListActive.QueryContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

// Get fetches a single webhook by ID, including inactive ones.
func (s *Store) Get(ctx context.Context, id string) (*models.Webhook, error) {
	rows, err := s.stmtGet.QueryContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hooks, err := scanWebhooks(rows)
	if err != nil {
		return nil, err
	}
	if len(hooks) == 0 {
		return nil, ErrWebhookNotFound
	}
	return &hooks[0], nil
}

// Delete soft-deletes a webhook (is_active=0); the caller must own it.
func (s *Store) Delete(ctx context.Context, id, userID string) error {
	res, err := s.stmtDeactivate.ExecContext(ctx, time.Now().UTC(), id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

// ActiveForEvent returns every active webhook subscribed to eventType: an
// empty Events list subscribes to every event.
func (s *Store) ActiveForEvent(ctx context.Context, eventType string) ([]models.Webhook, error) {
	rows, err := s.stmtActiveForEvent.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	all, err := scanWebhooks(rows)
	if err != nil {
		return nil, err
	}
	var matching []models.Webhook
	for _, h := range all {
		if len(h.Events) == 0 || contains(h.Events, eventType) {
			matching = append(matching, h)
		}
	}
	return matching, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func scanWebhooks(rows *sql.Rows) ([]models.Webhook, error) {
	var out []models.Webhook
	for rows.Next() {
		var h models.Webhook
		var eventsJSON string
		var isActive int
		if err := rows.Scan(&h.ID, &h.UserID, &h.URL, &eventsJSON, &h.Secret, &isActive, &h.FailureCount, &h.MaxRetries, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.IsActive = isActive != 0
		_ = json.Unmarshal([]byte(eventsJSON), &h.Events)
		out = append(out, h)
	}
	return out, rows.Err()
}

const deliveryBodyTruncate = 4096

// RecordDelivery appends one delivery attempt to the log, truncating the
// response body to avoid unbounded growth.
func (s *Store) RecordDelivery(ctx context.Context, webhookID, eventType, payloadJSON string, status int, body string, attempt int) error {
	if len(body) > deliveryBodyTruncate {
		body = body[:deliveryBodyTruncate]
	}
	_, err := s.stmtRecordDelivery.ExecContext(ctx, webhookID, eventType, payloadJSON, status, body, attempt, time.Now().UTC())
	return err
}

// IncrementFailure bumps a webhook's failure_count and deactivates it once
// the count exceeds max_retries.
func (s *Store) IncrementFailure(ctx context.Context, webhookID string) error {
	now := time.Now().UTC()
	if _, err := s.stmtIncrementFailure.ExecContext(ctx, now, webhookID); err != nil {
		return err
	}
	_, err := s.stmtDeactivateOverLimit.ExecContext(ctx, now, webhookID)
	return err
}

// ResetFailure clears a webhook's failure_count after a successful delivery.
func (s *Store) ResetFailure(ctx context.Context, webhookID string) error {
	_, err := s.stmtResetFailure.ExecContext(ctx, time.Now().UTC(), webhookID)
	return err
}

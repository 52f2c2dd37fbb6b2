// Package audit persists an append-only log of security-relevant events
// (authentication, tool execution, marketplace installs) to SQLite, with an
// async buffered writer so callers on the request hot path never block on
// disk I/O (SPEC_FULL.md §3, §4.9).
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openclaw/flux/pkg/models"
)

// Log is an append-only SQLite-backed audit event sink. Record is
// non-blocking: events are pushed onto a buffered channel and drained by a
// background writer goroutine, falling back to a synchronous write when the
// buffer is full so events are never silently dropped.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
	buffer chan *models.AuditEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

// Open opens (creating if absent) the audit database at path and starts the
// background writer.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TIMESTAMP NOT NULL,
	event_type TEXT NOT NULL,
	user_id TEXT,
	source_ip TEXT,
	interface TEXT,
	details TEXT,
	severity TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_events(event_type);
`); err != nil {
		return nil, err
	}

	l := &Log{
		db:     db,
		logger: logger.With("component", "audit"),
		buffer: make(chan *models.AuditEvent, 1000),
		done:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Close drains the buffer and closes the database handle.
func (l *Log) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

// Record appends an audit event, satisfying auth.AuditSink so Log can be
// plugged directly into an auth.Middleware.
func (l *Log) Record(ctx context.Context, eventType, userID, sourceIP, iface string, details map[string]any, severity models.Severity) {
	event := &models.AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		UserID:    userID,
		SourceIP:  sourceIP,
		Interface: iface,
		Details:   details,
		Severity:  severity,
	}
	select {
	case l.buffer <- event:
	default:
		l.write(event)
	}
}

func (l *Log) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.buffer:
			l.write(event)
		case <-l.done:
			for {
				select {
				case event := <-l.buffer:
					l.write(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) write(event *models.AuditEvent) {
	detailsJSON, err := json.Marshal(event.Details)
	if err != nil {
		l.logger.Error("marshal audit details failed", "error", err)
		detailsJSON = []byte("{}")
	}
	_, err = l.db.Exec(`
INSERT INTO audit_events (timestamp, event_type, user_id, source_ip, interface, details, severity)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.Timestamp, event.EventType, event.UserID, event.SourceIP, event.Interface, string(detailsJSON), string(event.Severity))
	if err != nil {
		l.logger.Error("write audit event failed", "error", err, "event_type", event.EventType)
	}
}

// Query options for listing recent events.
type Query struct {
	EventType string
	UserID    string
	Since     time.Time
	Limit     int
}

// List returns matching audit events, most recent first.
func (l *Log) List(ctx context.Context, q Query) ([]models.AuditEvent, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	sqlStr := `SELECT id, timestamp, event_type, user_id, source_ip, interface, details, severity FROM audit_events WHERE 1=1`
	var args []any
	if q.EventType != "" {
		sqlStr += ` AND event_type = ?`
		args = append(args, q.EventType)
	}
	if q.UserID != "" {
		sqlStr += ` AND user_id = ?`
		args = append(args, q.UserID)
	}
	if !q.Since.IsZero() {
		sqlStr += ` AND timestamp >= ?`
		args = append(args, q.Since)
	}
	sqlStr += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var detailsJSON string
		var severity string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.UserID, &e.SourceIP, &e.Interface, &detailsJSON, &severity); err != nil {
			return nil, err
		}
		e.Severity = models.Severity(severity)
		if detailsJSON != "" {
			_ = json.Unmarshal([]byte(detailsJSON), &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Package retention implements RetentionManager, a policy-driven cleanup
// pass over the conversation, audit, and webhook-delivery databases
// (SPEC_FULL.md §4.16, grounded on original_source/retention.py). Each
// policy bounds a category by max age, max row count, or both; categories
// are allowlisted so a caller-supplied name can never reach raw SQL.
package retention

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// Policy bounds one data category's lifetime.
type Policy struct {
	Category   string `yaml:"category"`
	MaxAgeDays int    `yaml:"max_age_days"` // 0 = never delete by age
	MaxCount   int    `yaml:"max_count"`    // 0 = unlimited
}

// table/column metadata per allowlisted category. A category absent from
// this map can never be cleaned, regardless of what a Policy names.
type categoryInfo struct {
	table     string
	timestamp string
	idColumn  string
}

var categories = map[string]categoryInfo{
	"conversations":      {table: "conversations", timestamp: "updated_at", idColumn: "id"},
	"audit_logs":         {table: "audit_events", timestamp: "timestamp", idColumn: "id"},
	"webhook_deliveries": {table: "webhook_deliveries", timestamp: "delivered_at", idColumn: "id"},
}

// DefaultPolicies mirrors the original's defaults.
func DefaultPolicies() []Policy {
	return []Policy{
		{Category: "conversations", MaxAgeDays: 90},
		{Category: "audit_logs", MaxAgeDays: 365},
		{Category: "webhook_deliveries", MaxAgeDays: 30, MaxCount: 10000},
	}
}

// DefaultDBPaths mirrors the fixed relative paths from SPEC_FULL.md §6.
func DefaultDBPaths() map[string]string {
	return map[string]string{
		"conversations":      "data/conversations.db",
		"audit_logs":         "data/audit.db",
		"webhook_deliveries": "data/webhooks.db",
	}
}

// CategoryStats reports a category's current row count alongside its policy.
type CategoryStats struct {
	Policy Policy `json:"policy"`
	Total  int    `json:"total"`
}

// Manager runs retention cleanup across one SQLite database per category.
type Manager struct {
	policies []Policy
	dbPaths  map[string]string
	logger   *slog.Logger
}

// New builds a Manager. A nil policies/dbPaths argument falls back to the
// package defaults.
func New(policies []Policy, dbPaths map[string]string, logger *slog.Logger) *Manager {
	if policies == nil {
		policies = DefaultPolicies()
	}
	if dbPaths == nil {
		dbPaths = DefaultDBPaths()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{policies: policies, dbPaths: dbPaths, logger: logger.With("component", "retention")}
}

// GetPolicy returns the policy for category, or false if none is configured.
func (m *Manager) GetPolicy(category string) (Policy, bool) {
	for _, p := range m.policies {
		if p.Category == category {
			return p, true
		}
	}
	return Policy{}, false
}

// Stats reports current row counts per configured category.
func (m *Manager) Stats() map[string]CategoryStats {
	out := make(map[string]CategoryStats, len(m.policies))
	for _, policy := range m.policies {
		out[policy.Category] = CategoryStats{Policy: policy, Total: m.countRecords(policy.Category)}
	}
	return out
}

// RunCleanup applies every configured policy and returns rows deleted per
// category.
func (m *Manager) RunCleanup() map[string]int {
	results := make(map[string]int, len(m.policies))
	for _, policy := range m.policies {
		deleted := m.cleanupCategory(policy)
		results[policy.Category] = deleted
		if deleted > 0 {
			m.logger.Info("retention cleanup", "category", policy.Category, "deleted", deleted)
		}
	}
	return results
}

func (m *Manager) cleanupCategory(policy Policy) int {
	if _, ok := categories[policy.Category]; !ok {
		m.logger.Error("invalid retention category", "category", policy.Category)
		return 0
	}
	deleted := 0
	if policy.MaxAgeDays > 0 {
		deleted += m.deleteOlderThan(policy.Category, policy.MaxAgeDays)
	}
	if policy.MaxCount > 0 {
		deleted += m.deleteExcess(policy.Category, policy.MaxCount)
	}
	return deleted
}

func (m *Manager) connect(category string) *sql.DB {
	path, ok := m.dbPaths[category]
	if !ok || path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		m.logger.Warn("cannot connect for retention", "path", path, "error", err)
		return nil
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;`); err != nil {
		m.logger.Warn("cannot set pragmas for retention", "path", path, "error", err)
		db.Close()
		return nil
	}
	return db
}

func (m *Manager) countRecords(category string) int {
	db := m.connect(category)
	if db == nil {
		return 0
	}
	defer db.Close()

	info := categories[category]
	var total int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", info.table)
	if err := db.QueryRow(query).Scan(&total); err != nil {
		m.logger.Warn("retention count failed", "category", category, "error", err)
		return 0
	}
	return total
}

func (m *Manager) deleteOlderThan(category string, maxAgeDays int) int {
	db := m.connect(category)
	if db == nil {
		return 0
	}
	defer db.Close()

	info := categories[category]
	cutoff := time.Now().UTC().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", info.table, info.timestamp)
	res, err := db.Exec(query, cutoff)
	if err != nil {
		m.logger.Warn("retention delete-older-than failed", "category", category, "error", err)
		return 0
	}
	n, _ := res.RowsAffected()
	return int(n)
}

func (m *Manager) deleteExcess(category string, maxCount int) int {
	db := m.connect(category)
	if db == nil {
		return 0
	}
	defer db.Close()

	info := categories[category]
	var total int
	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", info.table)).Scan(&total); err != nil {
		m.logger.Warn("retention count failed", "category", category, "error", err)
		return 0
	}
	if total <= maxCount {
		return 0
	}
	excess := total - maxCount
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE %s IN (SELECT %s FROM %s ORDER BY %s ASC LIMIT ?)",
		info.table, info.idColumn, info.idColumn, info.table, info.timestamp,
	)
	res, err := db.Exec(query, excess)
	if err != nil {
		m.logger.Warn("retention delete-excess failed", "category", category, "error", err)
		return 0
	}
	n, _ := res.RowsAffected()
	return int(n)
}

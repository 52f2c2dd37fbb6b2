package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/openclaw/flux/pkg/models"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserDeactivated = errors.New("user deactivated")
	ErrInvalidKeyFormat = errors.New("invalid api key format")
	ErrUsernameTaken   = errors.New("username already taken")
)

// apiKeyPrefixLen is "flux_" (5) + 8 hex chars = 13.
const apiKeyPrefixLen = 13

// UserStore persists users and refresh tokens in SQLite (auth.db), matching
// SPEC_FULL.md §4.9.
type UserStore struct {
	db *sql.DB
}

// OpenUserStore opens (creating if absent) the auth database at path.
func OpenUserStore(path string) (*UserStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		return nil, err
	}
	store := &UserStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *UserStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL,
	api_key_hash TEXT NOT NULL UNIQUE,
	api_key_prefix TEXT NOT NULL,
	max_daily_calls INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_api_key_hash ON users(api_key_hash);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token_hash TEXT NOT NULL UNIQUE,
	expires_at TIMESTAMP NOT NULL,
	revoked INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refresh_user ON refresh_tokens(user_id);
`)
	return err
}

// Close closes the underlying database handle.
func (s *UserStore) Close() error { return s.db.Close() }

// hashKey returns the SHA-256 hex digest of a raw API key.
func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey issues a new raw API key: "flux_" + 64 lowercase hex chars
// (69 total), plus its display prefix ("flux_" + first 8 hex chars).
func GenerateAPIKey() (raw, prefix string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}
	hexPart := hex.EncodeToString(buf)
	raw = "flux_" + hexPart
	prefix = raw[:apiKeyPrefixLen]
	return raw, prefix, nil
}

// ValidKeyFormat reports whether raw matches "flux_" + 64 lowercase hex
// chars (69 chars total) per SPEC_FULL.md §6.
func ValidKeyFormat(raw string) bool {
	if len(raw) != 69 || !strings.HasPrefix(raw, "flux_") {
		return false
	}
	for _, r := range raw[5:] {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// CreateUser inserts a new user, generating an API key, returning the raw
// key (the only time it is ever observable) and the stored User record.
func (s *UserStore) CreateUser(ctx context.Context, username string, role models.UserRole, maxDailyCalls int) (*models.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, "", errors.New("username required")
	}
	raw, prefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}
	user := &models.User{
		ID:            uuid.NewString(),
		Username:      username,
		Role:          role,
		APIKeyHash:    hashKey(raw),
		APIKeyPrefix:  prefix,
		MaxDailyCalls: maxDailyCalls,
		IsActive:      true,
		CreatedAt:     time.Now(),
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO users (id, username, role, api_key_hash, api_key_prefix, max_daily_calls, is_active, created_at)
VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		user.ID, user.Username, string(user.Role), user.APIKeyHash, user.APIKeyPrefix, user.MaxDailyCalls, user.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, "", ErrUsernameTaken
		}
		return nil, "", err
	}
	return user, raw, nil
}

// AuthenticateAPIKey validates the format, looks up the row by hash in
// O(1) via the indexed column, and checks IsActive.
func (s *UserStore) AuthenticateAPIKey(ctx context.Context, raw string) (*models.User, error) {
	if !ValidKeyFormat(raw) {
		return nil, ErrInvalidKeyFormat
	}
	user, err := s.getByHash(ctx, hashKey(raw))
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserDeactivated
	}
	return user, nil
}

func (s *UserStore) getByHash(ctx context.Context, hash string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, username, role, api_key_hash, api_key_prefix, max_daily_calls, is_active, created_at
FROM users WHERE api_key_hash = ?`, hash)
	return scanUser(row)
}

// GetByID fetches a user by id.
func (s *UserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, username, role, api_key_hash, api_key_prefix, max_daily_calls, is_active, created_at
FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var role string
	var active int
	err := row.Scan(&u.ID, &u.Username, &role, &u.APIKeyHash, &u.APIKeyPrefix, &u.MaxDailyCalls, &active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = models.UserRole(role)
	u.IsActive = active != 0
	return &u, nil
}

// Deactivate sets is_active=false for a user.
func (s *UserStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// RotateAPIKey replaces a user's key hash atomically in a single UPDATE;
// in-flight requests authenticated before the update continue to succeed.
func (s *UserStore) RotateAPIKey(ctx context.Context, id string) (string, error) {
	raw, prefix, err := GenerateAPIKey()
	if err != nil {
		return "", err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET api_key_hash = ?, api_key_prefix = ? WHERE id = ?`,
		hashKey(raw), prefix, id)
	if err != nil {
		return "", err
	}
	if err := checkRowsAffected(res); err != nil {
		return "", err
	}
	return raw, nil
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateRefreshToken mints a random refresh token, stores its SHA-256 hash,
// and returns the raw token (never persisted in the clear).
func (s *UserStore) CreateRefreshToken(ctx context.Context, userID string, ttl time.Duration, mgr *JWTManager) (string, error) {
	raw, err := mgr.CreateRefreshToken()
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, created_at)
VALUES (?, ?, ?, ?, 0, ?)`,
		uuid.NewString(), userID, hashKey(raw), time.Now().Add(ttl), time.Now())
	if err != nil {
		return "", err
	}
	return raw, nil
}

// ValidateRefreshToken returns the owning user id if raw is a live,
// unrevoked, unexpired refresh token.
func (s *UserStore) ValidateRefreshToken(ctx context.Context, raw string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, expires_at, revoked FROM refresh_tokens WHERE token_hash = ?`, hashKey(raw))
	var userID string
	var expiresAt time.Time
	var revoked int
	err := row.Scan(&userID, &expiresAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", err
	}
	if revoked != 0 || expiresAt.Before(time.Now()) {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// RevokeRefreshToken marks a refresh token as revoked. It returns
// ErrInvalidToken if no matching row exists.
func (s *UserStore) RevokeRefreshToken(ctx context.Context, raw string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE token_hash = ?`, hashKey(raw))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidToken
	}
	return nil
}

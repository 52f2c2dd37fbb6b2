// Package auth implements API-key issuance and verification, HS256 JWT
// access/refresh tokens (stdlib-only crypto per SPEC_FULL.md §1), and role
// hierarchy enforcement.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/flux/pkg/models"
)

// MinSecretLength is the minimum acceptable JWT signing secret length.
const MinSecretLength = 32

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrSecretTooShort = fmt.Errorf("jwt secret must be at least %d characters", MinSecretLength)
)

// Claims is the JWT payload shape issued by JWTManager.
type Claims struct {
	Subject  string `json:"sub"`
	Username string `json:"username"`
	Role     string `json:"role"`
	IssuedAt int64  `json:"iat"`
	ExpireAt int64  `json:"exp"`
}

type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// JWTManager issues and verifies HS256 JWTs using only stdlib crypto
// (crypto/hmac, crypto/sha256, encoding/base64, encoding/json). Stateless
// after construction; safe for concurrent use.
type JWTManager struct {
	secret []byte
}

// NewJWTManager builds a JWTManager. secret must be at least
// MinSecretLength bytes.
func NewJWTManager(secret string) (*JWTManager, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	return &JWTManager{secret: []byte(secret)}, nil
}

func b64urlEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func b64urlDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// CreateAccessToken issues a signed HS256 JWT with the given claims and TTL.
func (m *JWTManager) CreateAccessToken(userID, username, role string, ttl time.Duration) (string, error) {
	now := time.Now().Unix()
	header := jwtHeader{Alg: "HS256", Typ: "JWT"}
	payload := Claims{
		Subject:  userID,
		Username: username,
		Role:     role,
		IssuedAt: now,
		ExpireAt: now + int64(ttl.Seconds()),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	headerB64 := b64urlEncode(headerJSON)
	payloadB64 := b64urlEncode(payloadJSON)
	signingInput := headerB64 + "." + payloadB64

	sig := hmac.New(sha256.New, m.secret)
	sig.Write([]byte(signingInput))
	sigB64 := b64urlEncode(sig.Sum(nil))

	return signingInput + "." + sigB64, nil
}

// CreateRefreshToken generates a random 64-hex-char refresh token secret
// (32 bytes of randomness). The caller stores only its SHA-256 digest.
func (m *JWTManager) CreateRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Verify validates signature, algorithm, and expiration, returning the
// decoded claims on success.
func (m *JWTManager) Verify(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	headerB64, payloadB64, sigB64 := parts[0], parts[1], parts[2]

	signingInput := headerB64 + "." + payloadB64
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(signingInput))
	expectedSig := mac.Sum(nil)

	providedSig, err := b64urlDecode(sigB64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare(expectedSig, providedSig) != 1 {
		return nil, ErrInvalidToken
	}

	headerJSON, err := b64urlDecode(headerB64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var header jwtHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, ErrInvalidToken
	}
	if header.Alg != "HS256" {
		return nil, ErrInvalidToken
	}

	payloadJSON, err := b64urlDecode(payloadB64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, ErrInvalidToken
	}

	if claims.ExpireAt != 0 && claims.ExpireAt < time.Now().Unix() {
		return nil, ErrInvalidToken
	}

	return &claims, nil
}

// ToUserContext converts verified claims into a UserContext.
func (c *Claims) ToUserContext() models.UserContext {
	return models.UserContext{
		UserID:   c.Subject,
		Username: c.Username,
		Role:     models.UserRole(c.Role),
	}
}

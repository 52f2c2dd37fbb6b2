package auth

import (
	"strings"
	"testing"
	"time"
)

func TestB64URLRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("a"),
		[]byte("hello world"),
		{0x00, 0x01, 0xff, 0xfe},
	}
	for _, c := range cases {
		enc := b64urlEncode(c)
		if strings.Contains(enc, "=") {
			t.Fatalf("encoded string contains padding: %q", enc)
		}
		dec, err := b64urlDecode(enc)
		if err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if string(dec) != string(c) {
			t.Fatalf("round trip mismatch: got %v want %v", dec, c)
		}
	}
}

func TestJWTManager_CreateAndVerify(t *testing.T) {
	m, err := NewJWTManager(strings.Repeat("x", 32))
	if err != nil {
		t.Fatal(err)
	}
	token, err := m.CreateAccessToken("user-1", "alice", "admin", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.Subject != "user-1" || claims.Username != "alice" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJWTManager_RejectsTamperedToken(t *testing.T) {
	m, _ := NewJWTManager(strings.Repeat("x", 32))
	token, _ := m.CreateAccessToken("user-1", "alice", "admin", time.Hour)
	tampered := token[:len(token)-2] + "zz"
	if _, err := m.Verify(tampered); err == nil {
		t.Fatal("expected tampered token to be rejected")
	}
}

func TestJWTManager_RejectsExpiredToken(t *testing.T) {
	m, _ := NewJWTManager(strings.Repeat("x", 32))
	token, _ := m.CreateAccessToken("user-1", "alice", "admin", -time.Hour)
	if _, err := m.Verify(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestJWTManager_RejectsWrongAlgHeader(t *testing.T) {
	m, _ := NewJWTManager(strings.Repeat("x", 32))
	token, _ := m.CreateAccessToken("user-1", "alice", "admin", time.Hour)
	parts := strings.Split(token, ".")
	badHeader := b64urlEncode([]byte(`{"alg":"none","typ":"JWT"}`))
	tampered := badHeader + "." + parts[1] + "." + parts[2]
	if _, err := m.Verify(tampered); err == nil {
		t.Fatal("expected non-HS256 alg to be rejected")
	}
}

func TestJWTManager_RejectsMalformedToken(t *testing.T) {
	m, _ := NewJWTManager(strings.Repeat("x", 32))
	if _, err := m.Verify("not-a-jwt"); err == nil {
		t.Fatal("expected malformed token to be rejected")
	}
	if _, err := m.Verify("a.b.c.d"); err == nil {
		t.Fatal("expected 4-part token to be rejected")
	}
}

func TestNewJWTManager_RejectsShortSecret(t *testing.T) {
	if _, err := NewJWTManager("short"); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}

func TestCreateRefreshToken_Is64HexChars(t *testing.T) {
	m, _ := NewJWTManager(strings.Repeat("x", 32))
	tok, err := m.CreateRefreshToken()
	if err != nil {
		t.Fatal(err)
	}
	if len(tok) != 64 {
		t.Fatalf("expected 64 hex chars, got %d: %q", len(tok), tok)
	}
}

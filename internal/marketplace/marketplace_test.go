package marketplace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/openclaw/flux/pkg/models"
)

const cleanToolSource = `package tool

var Schema = map[string]any{
	"name":        "weather",
	"description": "looks up weather",
	"input_schema": map[string]any{"type": "object"},
}

func Main(inputs map[string]any) (string, error) {
	return "sunny", nil
}
`

func setupMarket(t *testing.T, entries []models.MarketplaceEntry, candidateSrc string, candidateFilename string) *Market {
	t.Helper()
	dir := t.TempDir()
	registryPath := filepath.Join(dir, "registry.json")
	cacheDir := filepath.Join(dir, "cache")
	toolsDir := filepath.Join(dir, "tools")
	installedPath := filepath.Join(dir, "installed.json")

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(toolsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if candidateSrc != "" {
		if err := os.WriteFile(filepath.Join(cacheDir, candidateFilename), []byte(candidateSrc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(registryPath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return New(registryPath, cacheDir, toolsDir, installedPath)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestInstall_HappyPath(t *testing.T) {
	hash := sha256Hex(cleanToolSource)
	entries := []models.MarketplaceEntry{{Name: "weather", Filename: "weather.go", SHA256: hash}}
	m := setupMarket(t, entries, cleanToolSource, "weather.go")

	if err := m.Install(context.Background(), "weather"); err != nil {
		t.Fatal(err)
	}

	installed, err := m.ListInstalled(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(installed) != 1 || installed[0].Name != "weather" {
		t.Fatalf("unexpected installed state: %+v", installed)
	}

	if _, err := os.Stat(filepath.Join(m.toolsDir, "weather.go")); err != nil {
		t.Fatalf("expected tool file copied into tools dir: %v", err)
	}
}

func TestInstall_UnknownEntry(t *testing.T) {
	m := setupMarket(t, nil, "", "")
	if err := m.Install(context.Background(), "nope"); err == nil {
		t.Fatal("expected unknown entry rejection")
	}
}

func TestInstall_AlreadyInstalled(t *testing.T) {
	hash := sha256Hex(cleanToolSource)
	entries := []models.MarketplaceEntry{{Name: "weather", Filename: "weather.go", SHA256: hash}}
	m := setupMarket(t, entries, cleanToolSource, "weather.go")

	if err := m.Install(context.Background(), "weather"); err != nil {
		t.Fatal(err)
	}
	if err := m.Install(context.Background(), "weather"); err == nil {
		t.Fatal("expected already-installed rejection")
	}
}

func TestInstall_HashMismatch(t *testing.T) {
	entries := []models.MarketplaceEntry{{Name: "weather", Filename: "weather.go", SHA256: "deadbeef"}}
	m := setupMarket(t, entries, cleanToolSource, "weather.go")
	if err := m.Install(context.Background(), "weather"); err == nil {
		t.Fatal("expected hash mismatch rejection")
	}
}

func TestInstall_MissingRegistryHash(t *testing.T) {
	entries := []models.MarketplaceEntry{{Name: "weather", Filename: "weather.go"}}
	m := setupMarket(t, entries, cleanToolSource, "weather.go")
	if err := m.Install(context.Background(), "weather"); err == nil {
		t.Fatal("expected missing-hash rejection")
	}
}

func TestInstall_DangerousSourceRejected(t *testing.T) {
	evil := `package tool

import "os/exec"

var Schema = map[string]any{"name": "evil"}

func Main(inputs map[string]any) (string, error) {
	exec.Command("ls").Run()
	return "", nil
}
`
	hash := sha256Hex(evil)
	entries := []models.MarketplaceEntry{{Name: "evil", Filename: "evil.go", SHA256: hash}}
	m := setupMarket(t, entries, evil, "evil.go")
	if err := m.Install(context.Background(), "evil"); err == nil {
		t.Fatal("expected dangerous source to be rejected")
	}
}

func TestInstall_MissingContractRejected(t *testing.T) {
	noContract := `package tool

func Helper() string { return "not a tool" }
`
	hash := sha256Hex(noContract)
	entries := []models.MarketplaceEntry{{Name: "broken", Filename: "broken.go", SHA256: hash}}
	m := setupMarket(t, entries, noContract, "broken.go")
	if err := m.Install(context.Background(), "broken"); err == nil {
		t.Fatal("expected missing-contract rejection")
	}
}

func TestUninstall(t *testing.T) {
	hash := sha256Hex(cleanToolSource)
	entries := []models.MarketplaceEntry{{Name: "weather", Filename: "weather.go", SHA256: hash}}
	m := setupMarket(t, entries, cleanToolSource, "weather.go")

	if err := m.Install(context.Background(), "weather"); err != nil {
		t.Fatal(err)
	}
	if err := m.Uninstall(context.Background(), "weather"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(m.toolsDir, "weather.go")); !os.IsNotExist(err) {
		t.Fatalf("expected tool file removed, got err=%v", err)
	}
	installed, err := m.ListInstalled(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(installed) != 0 {
		t.Fatalf("expected empty installed state, got %+v", installed)
	}
}

func TestUninstall_NotInstalled(t *testing.T) {
	m := setupMarket(t, nil, "", "")
	if err := m.Uninstall(context.Background(), "nope"); err == nil {
		t.Fatal("expected not-installed rejection")
	}
}

func TestVerifyIntegrity(t *testing.T) {
	hash := sha256Hex(cleanToolSource)
	entries := []models.MarketplaceEntry{{Name: "weather", Filename: "weather.go", SHA256: hash}}
	m := setupMarket(t, entries, cleanToolSource, "weather.go")

	if err := m.Install(context.Background(), "weather"); err != nil {
		t.Fatal(err)
	}

	status, err := m.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status["weather"] != StatusOK {
		t.Fatalf("expected ok status, got %v", status["weather"])
	}

	if err := os.WriteFile(filepath.Join(m.toolsDir, "weather.go"), []byte(cleanToolSource+"\n// tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	status, err = m.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status["weather"] != StatusTampered {
		t.Fatalf("expected tampered status, got %v", status["weather"])
	}

	if err := os.Remove(filepath.Join(m.toolsDir, "weather.go")); err != nil {
		t.Fatal(err)
	}
	status, err = m.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status["weather"] != StatusMissing {
		t.Fatalf("expected missing status, got %v", status["weather"])
	}
}

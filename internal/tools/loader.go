package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"plugin"
	"time"

	"github.com/openclaw/flux/pkg/models"
)

// loadedTool is a successfully compiled and validated single-file tool
// module, ready for invocation.
type loadedTool struct {
	schema models.ToolSchema
	main   func(map[string]any) (string, error)
	sha256 string
	mtime  time.Time
}

// compileAndLoad validates a candidate tool source file against gates 1-4
// (caller-side, via toolsafety, before this is ever called), compiles it as
// a Go plugin, loads it, and extracts + validates its Schema/Main contract
// (gates 6-7). cacheDir holds compiled .so artifacts keyed by content hash
// so unchanged files are never recompiled.
func compileAndLoad(ctx context.Context, srcPath, cacheDir string) (*loadedTool, error) {
	src, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(src)
	hexSum := hex.EncodeToString(sum[:])

	soPath := filepath.Join(cacheDir, hexSum+".so")
	if _, err := os.Stat(soPath); err != nil {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return nil, err
		}
		cmd := exec.CommandContext(ctx, "go", "build", "-buildmode=plugin", "-trimpath", "-o", soPath, srcPath)
		cmd.Env = os.Environ()
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("compile %s: %w: %s", filepath.Base(srcPath), err, string(out))
		}
	}

	p, err := plugin.Open(soPath)
	if err != nil {
		return nil, fmt.Errorf("load plugin %s: %w", filepath.Base(srcPath), err)
	}

	schemaSym, err := p.Lookup("Schema")
	if err != nil {
		return nil, fmt.Errorf("%s: missing Schema export: %w", filepath.Base(srcPath), err)
	}
	rawSchemaPtr, ok := schemaSym.(*map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: Schema export has wrong type", filepath.Base(srcPath))
	}
	schema, err := parseSchema(*rawSchemaPtr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(srcPath), err)
	}

	mainSym, err := p.Lookup("Main")
	if err != nil {
		return nil, fmt.Errorf("%s: missing Main export: %w", filepath.Base(srcPath), err)
	}
	mainFn, ok := mainSym.(func(map[string]any) (string, error))
	if !ok {
		return nil, fmt.Errorf("%s: Main export has wrong signature", filepath.Base(srcPath))
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, err
	}

	return &loadedTool{schema: schema, main: mainFn, sha256: hexSum, mtime: info.ModTime()}, nil
}

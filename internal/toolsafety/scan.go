// Package toolsafety implements the filename, reserved-name, textual-regex,
// and AST-level danger scans shared by internal/tools (the live registry)
// and internal/marketplace (the install pipeline), so both gate untrusted
// tool source with exactly the same rules (SPEC_FULL.md §4.2, §4.11).
package toolsafety

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
)

// FilenamePattern is gate 1: a tool's base filename must match this.
var FilenamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*\.go$`)

// ToolNamePattern constrains Schema's name (gate 6/7 contract check).
var ToolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,30}$`)

// ReservedNames are core-owned identifiers a tool file may never shadow.
var ReservedNames = map[string]bool{
	"main.go":      true,
	"registry.go":  true,
	"schema.go":    true,
	"filter.go":    true,
	"loader.go":    true,
	"security.go":  true,
	"init.go":      true,
	"config.go":    true,
	"bootstrap.go": true,
}

// DangerPatterns is the literal, normative pattern set from SPEC_FULL.md §6,
// translated to the Go source surface the original Python patterns named:
// process spawning, reflective/dynamic-compile escapes, and filesystem
// destruction that a sandboxed single-file tool has no business touching.
var DangerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`os/exec`),
	regexp.MustCompile(`exec\.Command`),
	regexp.MustCompile(`syscall\.Exec`),
	regexp.MustCompile(`syscall\.`),
	regexp.MustCompile(`"unsafe"`),
	regexp.MustCompile(`"plugin"`),
	regexp.MustCompile(`go/plugin`),
	regexp.MustCompile(`os\.RemoveAll\(`),
	regexp.MustCompile(`os\.Remove\(`),
	regexp.MustCompile(`"net"`),
	regexp.MustCompile(`net\.Listen`),
	regexp.MustCompile(`net\.Dial`),
	regexp.MustCompile(`"net/http"`),
	regexp.MustCompile(`"os/signal"`),
	regexp.MustCompile(`reflect\.NewAt`),
	regexp.MustCompile(`reflect\.Value\)\.Elem\(\)\.Set`),
	regexp.MustCompile(`"debug/`),
	regexp.MustCompile(`"runtime/debug"`),
	regexp.MustCompile(`go:linkname`),
	regexp.MustCompile(`"encoding/gob"`),
}

// BlockedImports is the AST-level equivalent of gate 4: any import path in
// this set is rejected outright regardless of how it is referenced.
var BlockedImports = map[string]bool{
	"os/exec":       true,
	"syscall":       true,
	"unsafe":        true,
	"plugin":        true,
	"net":           true,
	"net/http":      true,
	"net/rpc":       true,
	"os/signal":     true,
	"debug/elf":     true,
	"debug/macho":   true,
	"runtime/debug": true,
	"encoding/gob":  true,
}

// BlockedCalls is checked against every call expression's resolved
// "pkg.Func" or bare "Func" text.
var BlockedCalls = map[string]bool{
	"os.RemoveAll":        true,
	"os.Remove":           true,
	"os.Exit":             true,
	"os.StartProcess":     true,
	"exec.Command":        true,
	"exec.CommandContext": true,
	"syscall.Exec":        true,
	"syscall.ForkExec":    true,
}

var (
	// ErrFilenameRejected is gate 1.
	ErrFilenameRejected = errors.New("filename rejected")
	// ErrReservedName is gate 2.
	ErrReservedName = errors.New("reserved tool filename")
	// ErrDangerPattern is gate 3 (textual regex).
	ErrDangerPattern = errors.New("source matched a dangerous pattern")
	// ErrDangerAST is gate 4 (syntactic scan).
	ErrDangerAST = errors.New("source failed syntactic danger scan")
	// ErrParseFailed means gate 4 could not even parse the source.
	ErrParseFailed = errors.New("source failed to parse")
)

// CheckFilename runs gates 1 and 2 against a base filename (no directory
// components).
func CheckFilename(base string) error {
	if !FilenamePattern.MatchString(base) {
		return fmt.Errorf("%w: %q", ErrFilenameRejected, base)
	}
	if ReservedNames[base] {
		return fmt.Errorf("%w: %q", ErrReservedName, base)
	}
	return nil
}

// ScanText runs gate 3: the textual danger-regex pass over raw source bytes.
func ScanText(src []byte) error {
	for _, pat := range DangerPatterns {
		if pat.Match(src) {
			return fmt.Errorf("%w: %s", ErrDangerPattern, pat.String())
		}
	}
	return nil
}

// ScanAST runs gate 4: parses src as a Go source file and rejects blocklisted
// imports and blocklisted calls. It does not inspect comments, so
// go:linkname directives are caught only by ScanText's pattern set. A parse
// failure is itself a rejection.
func ScanAST(filename string, src []byte) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	for _, imp := range file.Imports {
		path := importPath(imp)
		if BlockedImports[path] {
			return fmt.Errorf("%w: blocked import %q", ErrDangerAST, path)
		}
	}

	var rejectErr error
	ast.Inspect(file, func(n ast.Node) bool {
		if rejectErr != nil {
			return false
		}
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if name := callName(call); name != "" && BlockedCalls[name] {
			rejectErr = fmt.Errorf("%w: blocked call %q", ErrDangerAST, name)
			return false
		}
		return true
	})
	return rejectErr
}

func importPath(imp *ast.ImportSpec) string {
	if imp.Path == nil {
		return ""
	}
	// Path.Value is a quoted string literal; strip the quotes.
	v := imp.Path.Value
	if len(v) >= 2 {
		return v[1 : len(v)-1]
	}
	return v
}

// callName renders a call expression's function selector as "pkg.Func" or
// "Func" for comparison against BlockedCalls.
func callName(call *ast.CallExpr) string {
	switch fn := call.Fun.(type) {
	case *ast.SelectorExpr:
		if ident, ok := fn.X.(*ast.Ident); ok {
			return ident.Name + "." + fn.Sel.Name
		}
		return fn.Sel.Name
	case *ast.Ident:
		return fn.Name
	}
	return ""
}

// CheckToolName validates Schema's name against gate 6's pattern.
func CheckToolName(name string) error {
	if !ToolNamePattern.MatchString(name) {
		return fmt.Errorf("invalid tool name %q: must match %s", name, ToolNamePattern.String())
	}
	return nil
}

// RunSourceGates runs gates 1, 3, and 4 against a candidate tool file
// (filename gates first since they're cheapest). Gate 2 is folded into
// CheckFilename.
func RunSourceGates(base string, src []byte) error {
	if err := CheckFilename(base); err != nil {
		return err
	}
	if err := ScanText(src); err != nil {
		return err
	}
	if err := ScanAST(base, src); err != nil {
		return err
	}
	return nil
}

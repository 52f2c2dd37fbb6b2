package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "migrate", "user", "tool", "webhook", "backup"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Fatalf("expected default config path, got %q", got)
	}
	if got := resolveConfigPath("/etc/flux/prod.yaml"); got != "/etc/flux/prod.yaml" {
		t.Fatalf("expected explicit path preserved, got %q", got)
	}
}

func TestParseRole(t *testing.T) {
	cases := map[string]bool{"readonly": true, "user": true, "admin": true, "superuser": false}
	for raw, wantOK := range cases {
		_, err := parseRole(raw)
		if (err == nil) != wantOK {
			t.Fatalf("parseRole(%q): err=%v, want ok=%t", raw, err, wantOK)
		}
	}
}

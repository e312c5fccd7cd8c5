package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseConfig_ValidMinimal(t *testing.T) {
	yaml := `
root: file:///app/main
sources: ./lib
`
	cfg, err := ParseConfig([]byte(yaml), "/work/hotreload.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Root != "file:///app/main" {
		t.Errorf("root = %q, want file:///app/main", cfg.Root)
	}
	if cfg.Sources != filepath.Join("/work", "lib") {
		t.Errorf("sources = %q, want /work/lib", cfg.Sources)
	}
	if cfg.Entry != "main" {
		t.Errorf("entry = %q, want main", cfg.Entry)
	}
	if !cfg.Debuggable() {
		t.Error("expected libraries to be debuggable by default")
	}
}

func TestParseConfig_AllFields(t *testing.T) {
	yaml := `
root: file:///app/main
sources: /abs/lib
journal: reloads.db
heap_limit: 1000
log_level: 1
metrics: true
debuggable_default: false
entry: start
`
	cfg, err := ParseConfig([]byte(yaml), "/work/hotreload.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sources != "/abs/lib" {
		t.Errorf("sources = %q, want /abs/lib", cfg.Sources)
	}
	if cfg.Journal != filepath.Join("/work", "reloads.db") {
		t.Errorf("journal = %q", cfg.Journal)
	}
	if cfg.HeapLimit != 1000 || cfg.LogLevel != 1 || !cfg.Metrics {
		t.Errorf("unexpected numeric fields: %+v", cfg)
	}
	if cfg.Debuggable() {
		t.Error("debuggable_default: false not honored")
	}
	if cfg.Entry != "start" {
		t.Errorf("entry = %q, want start", cfg.Entry)
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing root", "sources: lib\n", "root is required"},
		{"missing sources", "root: a\n", "sources is required"},
		{"negative heap", "root: a\nsources: b\nheap_limit: -1\n", "heap_limit"},
		{"bad yaml", "root: [\n", "parsing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml), "test.yaml")
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestFindConfig_WalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, ConfigFileName)
	if err := os.WriteFile(path, []byte("root: x\nsources: y\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := FindConfig(nested)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != path {
		t.Errorf("found %q, want %q", found, path)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

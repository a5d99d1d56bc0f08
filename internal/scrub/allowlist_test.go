package scrub

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeAllowlist(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing allowlist: %v", err)
	}
}

func TestLoadAllowlist_EmptyPath(t *testing.T) {
	al, err := LoadAllowlist("")
	if err != nil {
		t.Fatalf("LoadAllowlist() error = %v", err)
	}
	if len(al.Regexes) != 0 {
		t.Errorf("got %d regexes, want 0", len(al.Regexes))
	}
}

func TestLoadAllowlist_MissingFile(t *testing.T) {
	al, err := LoadAllowlist(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if len(al.Regexes) != 0 {
		t.Errorf("got %d regexes, want 0", len(al.Regexes))
	}
}

func TestLoadAllowlist_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.toml")
	writeAllowlist(t, path, `
[allowlist]
regexes = ['''list-id: \S+''', '''unsubscribe-token''']
`)

	al, err := LoadAllowlist(path)
	if err != nil {
		t.Fatalf("LoadAllowlist() error = %v", err)
	}
	if len(al.Regexes) != 2 {
		t.Errorf("got %d regexes, want 2", len(al.Regexes))
	}
}

func TestLoadAllowlist_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.toml")
	writeAllowlist(t, path, `not = [valid toml`)

	_, err := LoadAllowlist(path)
	if !errors.Is(err, ErrInvalidTOML) {
		t.Errorf("got %v, want ErrInvalidTOML", err)
	}
}

func TestLoadAllowlist_InvalidRegex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.toml")
	writeAllowlist(t, path, `
[allowlist]
regexes = ['''[unclosed(''']
`)

	_, err := LoadAllowlist(path)
	if !errors.Is(err, ErrInvalidRegex) {
		t.Errorf("got %v, want ErrInvalidRegex", err)
	}
}

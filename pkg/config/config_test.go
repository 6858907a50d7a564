package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingPathIsNotError(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s != (Server{}) {
		t.Fatalf("expected zero value, got %+v", s)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daplinkd.yaml")
	yaml := "address: /tmp/daplinkd.sock\ntemporary: true\nverbosity: 2\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Address != "/tmp/daplinkd.sock" || !s.Temporary || s.Verbosity != 2 {
		t.Fatalf("got %+v", s)
	}
}

package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// Touch creates empty files named names inside dir.
func Touch(t testing.TB, dir string, names ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("touch %s: %v", name, err)
		}
	}
}

// WriteScript writes a shell script that exits 0 at dir/name with mode and
// returns its path.
func WriteScript(t testing.TB, dir, name string, mode os.FileMode) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), mode); err != nil {
		t.Fatalf("write script %s: %v", path, err)
	}
	return path
}

package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTailFile_ReturnsLastNLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	if err := os.WriteFile(path, []byte("1\n2\n3"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	lines, err := tailFile(path, 2)
	if err != nil {
		t.Fatalf("tailFile: %v", err)
	}
	if got := joinLines(lines); got != "2\n3" {
		t.Fatalf("joinLines = %q, want %q", got, "2\n3")
	}
}

func TestTailFile_FewerLinesThanRequested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	os.WriteFile(path, []byte("only-one"), 0o644)

	lines, err := tailFile(path, 10)
	if err != nil {
		t.Fatalf("tailFile: %v", err)
	}
	if got := joinLines(lines); got != "only-one" {
		t.Fatalf("joinLines = %q, want %q", got, "only-one")
	}
}

package audit

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveMigrationsDir_FindsDirectoryNextToCwd(t *testing.T) {
	dir := t.TempDir()
	migrationsDir := filepath.Join(dir, defaultMigrationsDir)
	if err := os.Mkdir(migrationsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)

	got, err := resolveMigrationsDir()
	if err != nil {
		t.Fatalf("resolveMigrationsDir: %v", err)
	}
	want, err := filepath.Abs(migrationsDir)
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestResolveMigrationsDir_ErrorsWithoutAnyCandidate(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)

	if _, err := resolveMigrationsDir(); err == nil {
		t.Fatal("expected an error when no migrations directory can be found")
	}
}

package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const migrationsTestPrefix = "db:migrations_test"

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("%s - failed to write %s: %v", migrationsTestPrefix, name, err)
		}
	}
}

func TestLoadMigrationFiles_Embedded(t *testing.T) {
	result, err := LoadMigrationFiles("")
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(result) == 0 {
		t.Fatalf("%s - expected embedded migrations", migrationsTestPrefix)
	}
	if !strings.Contains(result[0], "a2a_tasks") {
		t.Errorf("%s - first migration should create a2a_tasks", migrationsTestPrefix)
	}
}

func TestLoadMigrationFiles_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"0003_third.sql":  "THIRD",
		"0001_first.sql":  "FIRST",
		"0002_second.sql": "SECOND",
		"README.md":       "# Migrations",
		"notes.txt":       "some notes",
	})
	if err := os.Mkdir(filepath.Join(dir, "subdir.sql"), 0755); err != nil {
		t.Fatalf("%s - mkdir: %v", migrationsTestPrefix, err)
	}

	result, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	want := []string{"FIRST", "SECOND", "THIRD"}
	if len(result) != len(want) {
		t.Fatalf("%s - expected %d migrations, got %d", migrationsTestPrefix, len(want), len(result))
	}
	for i := range want {
		if result[i] != want[i] {
			t.Errorf("%s - index %d = %q, want %q", migrationsTestPrefix, i, result[i], want[i])
		}
	}
}

func TestLoadMigrationFiles_EmptyDir(t *testing.T) {
	result, err := LoadMigrationFiles(t.TempDir())
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(result) != 0 {
		t.Errorf("%s - expected empty result, got %d items", migrationsTestPrefix, len(result))
	}
}

func TestLoadMigrationFiles_NonExistentDir(t *testing.T) {
	if _, err := LoadMigrationFiles(filepath.Join(t.TempDir(), "nonexistent")); err == nil {
		t.Errorf("%s - expected error for non-existent directory", migrationsTestPrefix)
	}
}

package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Tests for search.go

func TestSearchPathsOptional(t *testing.T) {
	tmpDir := t.TempDir()

	// Create test file
	file1 := filepath.Join(tmpDir, "file1.txt")
	if err := os.WriteFile(file1, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{
			"finds existing file",
			[]string{file1},
			file1,
		},
		{
			"returns empty string when not found",
			[]string{filepath.Join(tmpDir, "nonexistent.txt")},
			"",
		},
		{
			"handles empty path list",
			[]string{},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SearchPathsOptional(tt.paths)
			if got != tt.want {
				t.Errorf("SearchPathsOptional() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultConfigPaths(t *testing.T) {
	paths := DefaultConfigPaths("test.yaml")

	if len(paths) != 3 {
		t.Errorf("DefaultConfigPaths() returned %d paths, want 3", len(paths))
	}

	// Check that paths contain the filename
	for i, path := range paths {
		if !strings.Contains(path, "test.yaml") {
			t.Errorf("DefaultConfigPaths()[%d] = %v, should contain 'test.yaml'", i, path)
		}
	}

	// Check that the system path is /etc/hzinstall/...
	if !strings.HasPrefix(paths[2], "/etc/hzinstall") {
		t.Errorf("DefaultConfigPaths()[2] should start with /etc/hzinstall, got %v", paths[2])
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()

	// Create test file
	testFile := filepath.Join(tmpDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	// Create test directory
	testDir := filepath.Join(tmpDir, "testdir")
	if err := os.Mkdir(testDir, 0755); err != nil {
		t.Fatalf("Failed to create test directory: %v", err)
	}

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"existing file", testFile, true},
		{"nonexistent file", filepath.Join(tmpDir, "nonexistent.txt"), false},
		{"directory", testDir, false}, // Directories return false
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FileExists(tt.path)
			if got != tt.want {
				t.Errorf("FileExists() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDirExists(t *testing.T) {
	tmpDir := t.TempDir()

	// Create test directory
	testDir := filepath.Join(tmpDir, "testdir")
	if err := os.Mkdir(testDir, 0755); err != nil {
		t.Fatalf("Failed to create test directory: %v", err)
	}

	// Create test file
	testFile := filepath.Join(tmpDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"existing directory", testDir, true},
		{"nonexistent directory", filepath.Join(tmpDir, "nonexistent"), false},
		{"file", testFile, false}, // Files return false
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DirExists(tt.path)
			if got != tt.want {
				t.Errorf("DirExists() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPathExists(t *testing.T) {
	tmpDir := t.TempDir()

	// Create test file
	testFile := filepath.Join(tmpDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	// Create test directory
	testDir := filepath.Join(tmpDir, "testdir")
	if err := os.Mkdir(testDir, 0755); err != nil {
		t.Fatalf("Failed to create test directory: %v", err)
	}

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"existing file", testFile, true},
		{"existing directory", testDir, true},
		{"nonexistent path", filepath.Join(tmpDir, "nonexistent"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PathExists(tt.path)
			if got != tt.want {
				t.Errorf("PathExists() = %v, want %v", got, tt.want)
			}
		})
	}
}


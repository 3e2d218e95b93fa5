package compose

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hzinstall/internal/failure"
)

// fakeBin creates an executable script on a fresh PATH and returns the bin dir.
func fakeBin(t *testing.T, scripts map[string]string) string {
	t.Helper()
	bin := t.TempDir()
	for name, body := range scripts {
		if err := os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\n"+body), 0755); err != nil {
			t.Fatalf("Failed to write fake %s: %v", name, err)
		}
	}
	// Keep /bin and /usr/bin for sh; drop everything else so the host's
	// real docker cannot interfere.
	t.Setenv("PATH", bin+":/usr/bin:/bin")
	return bin
}

func requireNoHostDocker(t *testing.T) {
	t.Helper()
	for _, dir := range []string{"/usr/bin", "/bin"} {
		for _, name := range []string{"docker", "docker-compose"} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				t.Skipf("host provides %s/%s", dir, name)
			}
		}
	}
}

func TestDetect(t *testing.T) {
	requireNoHostDocker(t)

	tests := []struct {
		name    string
		scripts map[string]string
		want    Command
		wantErr bool
	}{
		{
			"plugin available",
			map[string]string{"docker": "exit 0\n", "docker-compose": "exit 0\n"},
			Plugin,
			false,
		},
		{
			"docker without compose plugin",
			map[string]string{"docker": "[ \"$1\" = compose ] && exit 1\nexit 0\n", "docker-compose": "exit 0\n"},
			Standalone,
			false,
		},
		{
			"standalone only",
			map[string]string{"docker-compose": "exit 0\n"},
			Standalone,
			false,
		},
		{
			"neither",
			map[string]string{},
			nil,
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakeBin(t, tt.scripts)
			got, err := (&Launcher{}).Detect(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Detect() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, failure.ErrPrecondition) {
					t.Errorf("Detect() error = %v, want precondition failure", err)
				}
				return
			}
			if got.String() != tt.want.String() {
				t.Errorf("Detect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUp(t *testing.T) {
	requireNoHostDocker(t)
	bin := fakeBin(t, map[string]string{
		"docker": "echo \"$@\" > \"$LOG\"\npwd >> \"$LOG\"\n",
	})
	logFile := filepath.Join(bin, "calls.log")
	t.Setenv("LOG", logFile)

	dir := t.TempDir()
	l := &Launcher{}
	cmd, err := l.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if cmd.String() != "docker compose" {
		t.Errorf("command = %q", cmd)
	}
	if err := l.Up(context.Background(), cmd, dir); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("fake docker not invoked: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "compose up -d --build" {
		t.Errorf("args = %q, want %q", lines[0], "compose up -d --build")
	}
	wantDir, _ := filepath.EvalSymlinks(dir)
	if gotDir, _ := filepath.EvalSymlinks(lines[1]); gotDir != wantDir {
		t.Errorf("cwd = %q, want %q", gotDir, wantDir)
	}
}

func TestUp_Failure(t *testing.T) {
	requireNoHostDocker(t)
	fakeBin(t, map[string]string{
		"docker-compose": "echo 'build failed: no such image' >&2\nexit 1\n",
	})

	err := (&Launcher{}).Up(context.Background(), Standalone, t.TempDir())
	if !errors.Is(err, failure.ErrExternalOperation) {
		t.Fatalf("Up() error = %v, want external operation failure", err)
	}
	if !strings.Contains(err.Error(), "build failed: no such image") {
		t.Errorf("error should carry compose output: %v", err)
	}
	if !strings.Contains(err.Error(), "docker-compose up -d --build") {
		t.Errorf("error should name the command: %v", err)
	}
}

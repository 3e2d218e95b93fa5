package cmdutil

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestRun(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		opts    ExecOptions
		cmd     []string
		wantErr bool
	}{
		{
			"successful command",
			ExecOptions{},
			[]string{"echo", "hello"},
			false,
		},
		{
			"command with args",
			ExecOptions{},
			[]string{"echo", "hello", "world"},
			false,
		},
		{
			"command that fails",
			ExecOptions{},
			[]string{"ls", "/nonexistent/directory/path"},
			true,
		},
		{
			"empty command",
			ExecOptions{},
			[]string{},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Run(ctx, tt.opts, tt.cmd)
			if (err != nil) != tt.wantErr {
				t.Errorf("Run() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if result == nil {
					t.Fatal("Run() returned nil result for successful command")
				}
				if result.ExitCode != 0 {
					t.Errorf("Run() ExitCode = %d, want 0", result.ExitCode)
				}
			}
		})
	}
}

func TestRun_Stream(t *testing.T) {
	var streamed bytes.Buffer
	result, err := Run(context.Background(), ExecOptions{Stream: &streamed}, []string{"sh", "-c", "echo out; echo err >&2"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, want := range []string{"out", "err"} {
		if !strings.Contains(streamed.String(), want) {
			t.Errorf("streamed output %q missing %q", streamed.String(), want)
		}
		if !strings.Contains(string(result.Output), want) {
			t.Errorf("captured output %q missing %q", result.Output, want)
		}
	}
}

func TestRun_ExitCode(t *testing.T) {
	result, err := Run(context.Background(), ExecOptions{}, []string{"sh", "-c", "exit 7"})
	if err == nil {
		t.Fatal("Run() should return error for failed command")
	}
	if !IsExitError(err) {
		t.Errorf("IsExitError(%v) = false, want true", err)
	}
	if result.ExitCode != 7 {
		t.Errorf("Result.ExitCode = %d, want 7", result.ExitCode)
	}
}

func TestRun_NotFound(t *testing.T) {
	result, err := Run(context.Background(), ExecOptions{}, []string{"definitely-not-a-real-binary-xyz"})
	if err == nil {
		t.Fatal("Run() should fail for a missing binary")
	}
	if IsExitError(err) {
		t.Error("a binary that never started should not be reported as an exit error")
	}
	if result.ExitCode != -1 {
		t.Errorf("Result.ExitCode = %d, want -1", result.ExitCode)
	}
}

func TestExecOptions(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()

	t.Run("with working directory", func(t *testing.T) {
		result, err := Run(ctx, ExecOptions{Dir: tmpDir}, []string{"pwd"})
		if err != nil {
			t.Fatalf("Run() with Dir option error = %v", err)
		}
		if !strings.Contains(string(result.Output), tmpDir) {
			t.Errorf("pwd output %q does not mention %q", result.Output, tmpDir)
		}
	})

	t.Run("with environment variables", func(t *testing.T) {
		result, err := Run(ctx, ExecOptions{Env: []string{"TEST_VAR=test_value"}}, []string{"env"})
		if err != nil {
			t.Fatalf("Run() with Env option error = %v", err)
		}
		out := string(result.Output)
		if !strings.Contains(out, "TEST_VAR=test_value") {
			t.Error("Run() did not set environment variable correctly")
		}
		if !strings.Contains(out, "PATH=") {
			t.Error("Run() should keep the parent environment")
		}
	})

	t.Run("with timeout", func(t *testing.T) {
		_, err := Run(ctx, ExecOptions{Timeout: 100 * time.Millisecond}, []string{"sleep", "1"})
		if err == nil {
			t.Error("Run() should timeout for long command")
		}
	})
}

func TestRunnerFunc(t *testing.T) {
	var seen []string
	r := RunnerFunc(func(ctx context.Context, opts ExecOptions, cmdParts []string) (*Result, error) {
		seen = cmdParts
		return &Result{}, nil
	})

	if _, err := r.Run(context.Background(), ExecOptions{}, []string{"git", "status"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if FormatCommand(seen) != "git status" {
		t.Errorf("runner saw %v", seen)
	}
}

func TestLookPath(t *testing.T) {
	if !LookPath("sh") {
		t.Error("LookPath(sh) = false, want true")
	}
	if LookPath("definitely-not-a-real-binary-xyz") {
		t.Error("LookPath() found a binary that does not exist")
	}
}

func TestFormatCommand(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  string
	}{
		{
			"simple command",
			[]string{"git", "status"},
			"git status",
		},
		{
			"command with spaces in argument",
			[]string{"git", "commit", "-m", "my message"},
			"git commit -m 'my message'",
		},
		{
			"empty command",
			[]string{},
			"<empty command>",
		},
		{
			"single command",
			[]string{"ls"},
			"ls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatCommand(tt.input)
			if got != tt.want {
				t.Errorf("FormatCommand() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSanitizeOutput(t *testing.T) {
	tests := []struct {
		name    string
		output  []byte
		secrets []string
		want    string
	}{
		{
			"redact single secret",
			[]byte("Password: mysecret123"),
			[]string{"mysecret123"},
			"Password: ***REDACTED***",
		},
		{
			"redact multiple secrets",
			[]byte("user: admin, password: secret1, token: secret2"),
			[]string{"secret1", "secret2"},
			"user: admin, password: ***REDACTED***, token: ***REDACTED***",
		},
		{
			"no secrets",
			[]byte("public information"),
			[]string{},
			"public information",
		},
		{
			"empty secret",
			[]byte("some output"),
			[]string{""},
			"some output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeOutput(tt.output, tt.secrets)
			if string(got) != tt.want {
				t.Errorf("SanitizeOutput() = %v, want %v", string(got), tt.want)
			}
		})
	}
}

func BenchmarkFormatCommand(b *testing.B) {
	cmd := []string{"git", "commit", "-m", "my message"}

	for i := 0; i < b.N; i++ {
		_ = FormatCommand(cmd)
	}
}

package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
	}{
		{"precondition", Precondition("checking git", errors.New("not found")), ErrPrecondition, KindPrecondition},
		{"state conflict", StateConflict("inspecting target", errors.New("not a repo")), ErrStateConflict, KindStateConflict},
		{"external", ExternalOperation("git clone", errors.New("exit 128")), ErrExternalOperation, KindExternalOperation},
		{"missing", MissingDependency("locating installer", errors.New("absent")), ErrMissingDependency, KindMissingDependency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("stage: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", wrapped, tt.sentinel)
			}
			if got := KindOf(wrapped); got != tt.kind {
				t.Errorf("KindOf() = %v, want %v", got, tt.kind)
			}
			if ExitCode(wrapped) != 1 {
				t.Errorf("ExitCode() = %d, want 1", ExitCode(wrapped))
			}
		})
	}
}

func TestError_DoesNotMatchOtherKinds(t *testing.T) {
	err := StateConflict("inspecting target", errors.New("not a repo"))
	if errors.Is(err, ErrPrecondition) {
		t.Error("state conflict should not match precondition sentinel")
	}
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := ExternalOperation("git fetch", cause)
	if !errors.Is(err, cause) {
		t.Error("expected the underlying cause to be reachable")
	}
	if err.Error() != "git fetch: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", errors.New("x"), 1},
		{"installer status", fmt.Errorf("chain: %w", &ExitError{Command: "install.sh", Code: 42}), 42},
		{"zero status falls back", &ExitError{Command: "install.sh", Code: 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

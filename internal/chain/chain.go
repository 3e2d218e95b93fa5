// Package chain hands provisioning off to the automation installer shipped
// in the repository.
//
// Two modes exist. RunInPlace runs the installer inside an already synced
// deployment directory. RunFromPayload syncs into a transient directory,
// copies only the payload into a target directory and runs it there; the
// transient directory is always removed.
package chain

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mvdan.cc/sh/v3/syntax"

	"hzinstall/internal/failure"
	"hzinstall/internal/security"
	"hzinstall/pkg/cmdutil"
	"hzinstall/pkg/fileutil"
)

const (
	DefaultInstallerPath = "automation/install.sh"
	DefaultPayloadDir    = "automation"
)

// StageFunc populates dir, typically with a shallow repository sync.
type StageFunc func(ctx context.Context, dir string) error

// Chainer locates and runs the dependent installer.
type Chainer struct {
	// InstallerPath is relative to the deployment directory.
	InstallerPath string
	// PayloadDir is the directory copied by RunFromPayload, relative to the
	// synced tree. It must contain InstallerPath.
	PayloadDir string

	Runner cmdutil.Runner
	// Output receives the installer's stdout and stderr.
	Output io.Writer
	// TempDir is the parent for transient directories; empty means os.TempDir.
	TempDir string
	// Geteuid reports the effective uid; nil means os.Geteuid.
	Geteuid func() int
}

func (c *Chainer) installerPath() string {
	if c.InstallerPath == "" {
		return DefaultInstallerPath
	}
	return c.InstallerPath
}

func (c *Chainer) payloadDir() string {
	if c.PayloadDir == "" {
		return DefaultPayloadDir
	}
	return c.PayloadDir
}

// CheckPrivilege fails unless the process runs as root.
func (c *Chainer) CheckPrivilege() error {
	geteuid := c.Geteuid
	if geteuid == nil {
		geteuid = os.Geteuid
	}
	if uid := geteuid(); uid != 0 {
		return failure.Precondition("checking privileges",
			fmt.Errorf("the automation installer must run as root (effective uid %d); re-run with sudo", uid))
	}
	return nil
}

// RunInPlace runs <dir>/<InstallerPath> with its own directory as cwd.
// A non-zero exit is reported as a failure.ExitError with the installer's status.
func (c *Chainer) RunInPlace(ctx context.Context, dir string) error {
	installer, err := filepath.Abs(filepath.Join(dir, c.installerPath()))
	if err != nil {
		return failure.MissingDependency("locating installer", err)
	}
	if !fileutil.FileExists(installer) {
		return failure.MissingDependency("locating installer",
			fmt.Errorf("%s not found; is the repository at the expected revision?", installer))
	}
	if err := checkSyntax(installer); err != nil {
		return failure.MissingDependency("checking installer", err)
	}
	if err := os.Chmod(installer, security.PermInstaller); err != nil {
		return failure.ExternalOperation("preparing installer", err)
	}

	runner := c.Runner
	if runner == nil {
		runner = cmdutil.Default
	}

	op := "running " + c.installerPath()
	result, err := runner.Run(ctx, cmdutil.ExecOptions{
		Dir:    filepath.Dir(installer),
		Stream: c.Output,
	}, []string{installer})
	if err == nil {
		return nil
	}
	if cmdutil.IsExitError(err) && result.ExitCode > 0 {
		return failure.ExternalOperation(op, &failure.ExitError{Command: c.installerPath(), Code: result.ExitCode})
	}
	return failure.ExternalOperation(op, err)
}

// checkSyntax parses the installer so a truncated or corrupt script is
// refused before any of it runs.
func checkSyntax(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(f, path); err != nil {
		return fmt.Errorf("script syntax error: %w", err)
	}
	return nil
}

// RunFromPayload stages a fresh tree in a transient directory, copies its
// payload directory into target and runs the installer from target.
func (c *Chainer) RunFromPayload(ctx context.Context, stage StageFunc, target string) error {
	return c.withTransientDir(func(tmp string) error {
		if err := stage(ctx, tmp); err != nil {
			return err
		}

		payload := filepath.Join(tmp, c.payloadDir())
		if !fileutil.DirExists(payload) {
			return failure.MissingDependency("locating payload",
				fmt.Errorf("%s directory not found in synced tree", c.payloadDir()))
		}

		if err := os.MkdirAll(target, 0o755); err != nil {
			return failure.ExternalOperation("creating target directory", err)
		}
		if err := fileutil.CopyDir(payload, filepath.Join(target, c.payloadDir())); err != nil {
			return failure.ExternalOperation("copying payload", err)
		}

		return c.RunInPlace(ctx, target)
	})
}

// withTransientDir creates a scratch directory, passes it to fn and removes
// it on every exit path, panics included.
func (c *Chainer) withTransientDir(fn func(dir string) error) (err error) {
	dir, err := os.MkdirTemp(c.TempDir, "hzinstall-payload-")
	if err != nil {
		return failure.ExternalOperation("creating transient directory", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil && err == nil {
			err = failure.ExternalOperation("removing transient directory", rmErr)
		}
	}()

	// The stage clones into dir, so it must start out empty.
	return fn(dir)
}

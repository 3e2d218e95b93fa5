// Package reposync keeps a deployment directory in step with a remote branch.
//
// A directory is cloned when absent (or empty), updated in place when it is
// already a repository, and refused when it holds anything else. Updating
// never clones again and a refused directory is never touched.
package reposync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"hzinstall/internal/failure"
	"hzinstall/pkg/cmdutil"
	"hzinstall/pkg/fileutil"
)

// State classifies a deployment directory before syncing.
type State int

const (
	// StateAbsent: the path does not exist or is an empty directory.
	StateAbsent State = iota
	// StatePlain: the path holds files but no repository metadata.
	StatePlain
	// StateRepository: the path is a git working copy.
	StateRepository
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StatePlain:
		return "plain"
	case StateRepository:
		return "repository"
	default:
		return "unknown"
	}
}

// Strategy selects how an existing repository is brought to the branch tip.
type Strategy string

const (
	// StrategyReset discards local divergence with a hard reset.
	StrategyReset Strategy = "reset"
	// StrategyFastForward only advances; divergent history fails the sync.
	StrategyFastForward Strategy = "ff-only"
)

// ParseStrategy parses a strategy name. Empty selects StrategyReset.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyReset:
		return StrategyReset, nil
	case StrategyFastForward:
		return StrategyFastForward, nil
	default:
		return "", fmt.Errorf("invalid sync strategy %q (want %q or %q)", s, StrategyReset, StrategyFastForward)
	}
}

// Detect classifies dir without modifying it.
func Detect(dir string) (State, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return StateAbsent, nil
	}
	if err != nil {
		return StatePlain, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return StatePlain, nil
	}

	_, err = git.PlainOpen(dir)
	switch {
	case err == nil:
		return StateRepository, nil
	case !errors.Is(err, git.ErrRepositoryNotExists):
		// Metadata present but unreadable by go-git; let the git binary decide.
		if fileutil.PathExists(filepath.Join(dir, ".git")) {
			return StateRepository, nil
		}
		return StatePlain, fmt.Errorf("failed to open repository %s: %w", dir, err)
	}

	empty, err := fileutil.IsEmptyDir(dir)
	if err != nil {
		return StatePlain, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	if empty {
		return StateAbsent, nil
	}
	return StatePlain, nil
}

// Syncer synchronizes directories with one remote branch.
type Syncer struct {
	RepoURL  string
	Branch   string
	Strategy Strategy
	// Depth of the initial clone; zero means 1.
	Depth  int
	Runner cmdutil.Runner
}

func (s *Syncer) runner() cmdutil.Runner {
	if s.Runner == nil {
		return cmdutil.Default
	}
	return s.Runner
}

// Sync guarantees dir is a working copy of s.Branch at its tip and returns
// the state dir was found in.
func (s *Syncer) Sync(ctx context.Context, dir string) (State, error) {
	if s.Branch == "" {
		return StateAbsent, failure.Precondition("syncing repository", errors.New("branch is required"))
	}
	if !cmdutil.LookPath("git") {
		return StateAbsent, failure.Precondition("syncing repository", errors.New("git is not installed"))
	}

	state, err := Detect(dir)
	if err != nil {
		return state, failure.StateConflict("inspecting "+dir, err)
	}

	switch state {
	case StateAbsent:
		return state, s.clone(ctx, dir)
	case StateRepository:
		if err := s.checkOrigin(dir); err != nil {
			return state, err
		}
		return state, s.update(ctx, dir)
	default:
		return state, failure.StateConflict("syncing repository",
			fmt.Errorf("%s exists and is not a git repository; move it aside or choose another directory", dir))
	}
}

// checkOrigin refuses a repository whose origin is not s.RepoURL. An unset
// RepoURL accepts whatever origin is configured.
func (s *Syncer) checkOrigin(dir string) error {
	if s.RepoURL == "" {
		return nil
	}
	origin, err := OriginURL(dir)
	if err != nil {
		return failure.StateConflict("syncing repository", fmt.Errorf("%s has no origin remote: %w", dir, err))
	}
	if normalizeURL(origin) != normalizeURL(s.RepoURL) {
		return failure.StateConflict("syncing repository",
			fmt.Errorf("%s tracks %s, not %s; move it aside or choose another directory", dir, origin, s.RepoURL))
	}
	return nil
}

func normalizeURL(u string) string {
	u = strings.TrimSpace(u)
	u = strings.TrimSuffix(u, "/")
	return strings.TrimSuffix(u, ".git")
}

func (s *Syncer) clone(ctx context.Context, dir string) error {
	if s.RepoURL == "" {
		return failure.Precondition("cloning repository", errors.New("REPO_URL is required to clone into an empty directory"))
	}
	depth := s.Depth
	if depth <= 0 {
		depth = 1
	}
	return s.git(ctx, "", "git", "clone", "--depth", strconv.Itoa(depth), "--branch", s.Branch, s.RepoURL, dir)
}

func (s *Syncer) update(ctx context.Context, dir string) error {
	remoteRef := "origin/" + s.Branch

	if err := s.git(ctx, dir, "git", "fetch", "--all", "--prune"); err != nil {
		return err
	}
	// Shallow clones track a single branch; fetch the requested one explicitly
	// when it is not among the remote-tracking refs yet.
	if !hasRemoteBranch(dir, s.Branch) {
		refspec := fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", s.Branch, s.Branch)
		if err := s.git(ctx, dir, "git", "fetch", "--prune", "origin", refspec); err != nil {
			return err
		}
	}

	switch s.Strategy {
	case StrategyFastForward:
		if err := s.git(ctx, dir, "git", "checkout", s.Branch); err != nil {
			return err
		}
		return s.git(ctx, dir, "git", "merge", "--ff-only", remoteRef)
	default:
		if err := s.git(ctx, dir, "git", "checkout", "-f", "-B", s.Branch, remoteRef); err != nil {
			return err
		}
		return s.git(ctx, dir, "git", "reset", "--hard", remoteRef)
	}
}

func hasRemoteBranch(dir, branch string) bool {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return false
	}
	_, err = repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	return err == nil
}

// git runs a git command and wraps failures with the command's own output.
func (s *Syncer) git(ctx context.Context, dir string, cmdParts ...string) error {
	result, err := s.runner().Run(ctx, cmdutil.ExecOptions{Dir: dir}, cmdParts)
	if err == nil {
		return nil
	}
	op := cmdutil.FormatCommand(cmdParts)
	if result != nil {
		if out := strings.TrimSpace(string(result.Output)); out != "" {
			return failure.ExternalOperation(op, fmt.Errorf("%w\n%s", err, out))
		}
	}
	return failure.ExternalOperation(op, err)
}

// Head returns the commit checked out in dir.
func Head(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("failed to open repository: %w", err)
	}
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// OriginURL returns the first URL of the "origin" remote of the repository in dir.
func OriginURL(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("failed to open repository: %w", err)
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return "", fmt.Errorf("failed to find origin remote: %w", err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", errors.New("origin remote has no URL")
	}
	return urls[0], nil
}

package security

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	repoPathPattern = regexp.MustCompile(`^/[a-zA-Z0-9_.~/-]+$`)
	hostPattern     = regexp.MustCompile(`^[a-zA-Z0-9.-]+(:[0-9]+)?$`)
	scpLikePattern  = regexp.MustCompile(`^[a-zA-Z0-9_.-]+@[a-zA-Z0-9.-]+:[a-zA-Z0-9_.~/-]+$`)
	branchPattern   = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
)

// ValidateRepoURL ensures a remote is safe to hand to git clone.
// Accepted forms are https://host/path, ssh://[user@]host/path,
// user@host:path and file:///abs/path.
func ValidateRepoURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if strings.HasPrefix(rawURL, "-") {
		return fmt.Errorf("repository URL cannot start with '-'")
	}
	if strings.ContainsAny(rawURL, " \t\r\n;|&$`<>'\"\\") {
		return fmt.Errorf("repository URL contains invalid characters")
	}

	if !strings.Contains(rawURL, "://") {
		if !scpLikePattern.MatchString(rawURL) {
			return fmt.Errorf("unsupported repository URL %q (want https://, ssh://, file:// or user@host:path)", rawURL)
		}
		return rejectTraversal(rawURL[strings.Index(rawURL, ":")+1:])
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "https", "ssh":
		if !hostPattern.MatchString(u.Host) {
			return fmt.Errorf("invalid host %q", u.Host)
		}
	case "file":
		if u.Host != "" {
			return fmt.Errorf("file URLs must not name a host")
		}
	default:
		return fmt.Errorf("unsupported URL scheme %q (want https, ssh or file)", u.Scheme)
	}

	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("repository URL must not carry a query or fragment")
	}
	if !repoPathPattern.MatchString(u.Path) || strings.Trim(u.Path, "/") == "" {
		return fmt.Errorf("URL contains invalid characters or format")
	}
	return rejectTraversal(u.Path)
}

func rejectTraversal(p string) error {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return fmt.Errorf("repository path contains traversal elements")
		}
	}
	return nil
}

// ValidateBranchName ensures branch name is safe for git operations.
// Prevents command injection through branch names.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("branch name cannot contain '..'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// SanitizePath ensures a path is absolute and doesn't contain traversal attempts.
func SanitizePath(path string) (string, error) {
	// Must be absolute
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be absolute: %s", path)
	}

	// Check for .. before cleaning (filepath.Clean removes them)
	for _, seg := range strings.Split(path, string(filepath.Separator)) {
		if seg == ".." {
			return "", fmt.Errorf("path contains traversal elements: %s", path)
		}
	}

	return filepath.Clean(path), nil
}

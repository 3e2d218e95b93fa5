// Package ghhook registers the push webhook of the deployment repository on GitHub,
// so that `hzinstall serve` is told about new commits.
package ghhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// ErrNotGitHub is returned for repository URLs that are not hosted on github.com.
var ErrNotGitHub = errors.New("repository is not hosted on github.com")

// NewClient creates an authenticated GitHub client, or nil without a token.
func NewClient(ctx context.Context, token string) *github.Client {
	if token == "" {
		return nil
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// ParseRepo extracts owner and repository name from a GitHub clone URL.
// https://github.com/o/r(.git), ssh://git@github.com/o/r.git and git@github.com:o/r.git are accepted.
func ParseRepo(repoURL string) (owner, repo string, err error) {
	var host, path string

	switch {
	case strings.Contains(repoURL, "://"):
		u, perr := url.Parse(repoURL)
		if perr != nil {
			return "", "", fmt.Errorf("invalid repository URL: %w", perr)
		}
		host, path = u.Hostname(), u.Path
	case strings.Contains(repoURL, ":"):
		// scp-like: user@host:owner/repo
		hostPart, p, _ := strings.Cut(repoURL, ":")
		if i := strings.LastIndex(hostPart, "@"); i >= 0 {
			hostPart = hostPart[i+1:]
		}
		host, path = hostPart, p
	default:
		return "", "", fmt.Errorf("invalid repository URL: %s", repoURL)
	}

	if !strings.EqualFold(host, "github.com") {
		return "", "", fmt.Errorf("%w: %s", ErrNotGitHub, repoURL)
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid owner/repo format: %s", path)
	}

	return parts[0], parts[1], nil
}

// Ensure makes sure a push webhook pointing at hookURL exists on owner/repo.
// It reports whether a new hook was created.
func Ensure(ctx context.Context, client *github.Client, owner, repo, hookURL, secret string) (bool, error) {
	if client == nil {
		return false, errors.New("GitHub client not configured")
	}

	opts := &github.ListOptions{PerPage: 100}
	for {
		hooks, resp, err := client.Repositories.ListHooks(ctx, owner, repo, opts)
		if err != nil {
			return false, fmt.Errorf("listing webhooks: %w", err)
		}

		for _, hook := range hooks {
			if hook.Config == nil {
				continue
			}
			if u, ok := hook.Config["url"].(string); ok && u == hookURL {
				return false, nil
			}
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	hookConfig := map[string]interface{}{
		"url":          hookURL,
		"content_type": "json",
		"secret":       secret,
		"insecure_ssl": "0",
	}

	active := true
	hookReq := &github.Hook{
		Events: []string{"push"},
		Active: &active,
		Config: hookConfig,
	}

	if _, _, err := client.Repositories.CreateHook(ctx, owner, repo, hookReq); err != nil {
		return false, fmt.Errorf("creating webhook: %w", err)
	}

	return true, nil
}

// Package gitrepo manages the bare git repositories that back each app's
// push-to-deploy workflow: bare repo init, post-receive hook rendering, and
// HEAD/ref resolution — shelling out to the `git` binary through the
// Command Runner rather than linking a cgo git library, to keep the rest
// of the stack's pure-Go build intact.
package gitrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepctl/deep/internal/errs"
	"github.com/deepctl/deep/internal/runner"
)

const domain = "gitrepo"

const defaultImageTemplate = "ghcr.io/me/{{app}}:{{sha}}"

// InitBareRepo creates a bare git repository at path unless one already
// exists there.
func InitBareRepo(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if parent := filepath.Dir(path); parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return errs.IO(domain, fmt.Sprintf("failed to create %s", parent), err)
		}
	}
	res, err := runner.Run(ctx, "git", "init", "--bare", path)
	if err != nil {
		return errs.External(domain, "failed to run git init --bare", err)
	}
	if !res.Success() {
		return errs.External(domain, fmt.Sprintf("git init --bare failed: %s", strings.TrimSpace(res.Stderr)), nil)
	}
	return nil
}

// WritePostReceiveHook renders and installs the post-receive hook that
// builds and deploys on every push. imageTemplate defaults to
// "ghcr.io/me/{{app}}:{{sha}}" when empty.
func WritePostReceiveHook(repoPath, app, imageTemplate, dockerfile, deepBin string) error {
	if imageTemplate == "" {
		imageTemplate = defaultImageTemplate
	}
	hookDir := filepath.Join(repoPath, "hooks")
	if err := os.MkdirAll(hookDir, 0o755); err != nil {
		return errs.IO(domain, fmt.Sprintf("failed to create %s", hookDir), err)
	}
	hookPath := filepath.Join(hookDir, "post-receive")

	buildBlock := fmt.Sprintf(`
tmpdir=$(mktemp -d)
trap 'rm -rf "$tmpdir"' EXIT
git --work-tree "$tmpdir" checkout -f "$newrev"
podman build -t "$image" -f "%s" "$tmpdir"
`, dockerfile)

	script := fmt.Sprintf(`#!/usr/bin/env sh
set -eu
read oldrev newrev refname
app="%s"
image_template="%s"
image=$(printf "%%s" "$image_template" | sed "s/{{app}}/$app/g" | sed "s/{{sha}}/$newrev/g")
%s
%s deploy "$app" --git-sha "$newrev" --image "$image" --skip-pull
`, app, imageTemplate, buildBlock, deepBin)

	if err := os.WriteFile(hookPath, []byte(script), 0o755); err != nil {
		return errs.IO(domain, fmt.Sprintf("failed to write hook at %s", hookPath), err)
	}
	return nil
}

// DefaultRepoPath builds the conventional bare-repo path for an app.
func DefaultRepoPath(reposDir, app string) string {
	return filepath.Join(reposDir, app+".git")
}

// ResolveSHA resolves gitRef (or HEAD, when empty) to a commit SHA inside
// repoPath. Returns "unknown" when the repo can't be opened or the ref
// can't be resolved, matching the best-effort resolution chain deploys use
// when no git metadata is available.
func ResolveSHA(ctx context.Context, repoPath, gitRef string) string {
	if repoPath == "" {
		return "unknown"
	}
	ref := gitRef
	if ref == "" {
		ref = "HEAD"
	}
	res, err := runner.Run(ctx, "git", "-C", repoPath, "rev-parse", ref)
	if err != nil || !res.Success() {
		return "unknown"
	}
	sha := strings.TrimSpace(res.Stdout)
	if sha == "" {
		return "unknown"
	}
	return sha
}

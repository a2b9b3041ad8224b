package gitrepo_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/deepctl/deep/internal/gitrepo"
	"github.com/deepctl/deep/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitBareRepoRunsGitInitOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repoPath := filepath.Join(dir, "app.git")

	fake := &runner.Fake{}
	fake.AddRule(runner.Rule{
		Contains: []string{"init", "--bare", repoPath},
		Result:   runner.Result{ExitCode: 0},
	})
	restore := runner.Guard(fake)
	defer restore()

	require.NoError(t, gitrepo.InitBareRepo(ctx, repoPath))
	assert.Len(t, fake.Invocations(), 1, "git init --bare runs on first call")

	// second call is a no-op: mark the path as existing and ensure no
	// further commands are issued.
	require.NoError(t, os.MkdirAll(repoPath, 0o755))
	require.NoError(t, gitrepo.InitBareRepo(ctx, repoPath))
	assert.Len(t, fake.Invocations(), 1, "an existing repo path short-circuits without running git again")
}

func TestWritePostReceiveHookRendersTemplateAndIsExecutable(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, gitrepo.WritePostReceiveHook(dir, "blog", "", "Dockerfile", "/usr/local/bin/deep"))

	hookPath := filepath.Join(dir, "hooks", "post-receive")
	info, err := os.Stat(hookPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	contents, err := os.ReadFile(hookPath)
	require.NoError(t, err)
	script := string(contents)
	assert.Contains(t, script, `app="blog"`)
	assert.Contains(t, script, "ghcr.io/me/{{app}}:{{sha}}")
	assert.Contains(t, script, "podman build")
	assert.Contains(t, script, `/usr/local/bin/deep deploy "$app" --git-sha "$newrev" --image "$image" --skip-pull`)
}

func TestWritePostReceiveHookHonorsCustomImageTemplate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, gitrepo.WritePostReceiveHook(dir, "blog", "registry.example.com/{{app}}:{{sha}}", "Dockerfile", "deep"))

	contents, err := os.ReadFile(filepath.Join(dir, "hooks", "post-receive"))
	require.NoError(t, err)
	assert.Contains(t, string(contents), "registry.example.com/{{app}}:{{sha}}")
}

func TestResolveSHAReturnsUnknownOnFailure(t *testing.T) {
	ctx := context.Background()
	fake := &runner.Fake{}
	fake.AddRule(runner.Rule{
		Contains: []string{"rev-parse", "HEAD"},
		Result:   runner.Result{ExitCode: 128, Stderr: "not a git repository"},
	})
	restore := runner.Guard(fake)
	defer restore()

	assert.Equal(t, "unknown", gitrepo.ResolveSHA(ctx, "/nonexistent", ""))
}

func TestResolveSHAReturnsResolvedSHA(t *testing.T) {
	ctx := context.Background()
	fake := &runner.Fake{}
	fake.AddRule(runner.Rule{
		Contains: []string{"rev-parse", "HEAD"},
		Result:   runner.Result{ExitCode: 0, Stdout: "deadbeefcafebabe\n"},
	})
	restore := runner.Guard(fake)
	defer restore()

	assert.Equal(t, "deadbeefcafebabe", gitrepo.ResolveSHA(ctx, "/repo", ""))
}

package imageutil_test

import (
	"context"
	"strings"
	"testing"

	"github.com/deepctl/deep/internal/imageutil"
	"github.com/deepctl/deep/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRunsBuildTagPush(t *testing.T) {
	ctx := context.Background()
	fake := &runner.Fake{}
	restore := runner.Guard(fake)
	defer restore()

	plan, err := imageutil.Publish(ctx, imageutil.PublishOptions{
		ImagePrefix: "ghcr.io/me/app",
		Tags:        []string{"v1", "latest"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "latest"}, plan.Tags)

	invocations := fake.Invocations()
	assertAnyContains(t, invocations, "podman build")
	assertAnyContains(t, invocations, "podman tag")
	assertAnyContains(t, invocations, "podman push")
}

func TestPublishDefaultsToGitSHAAndLatestWhenNoTags(t *testing.T) {
	ctx := context.Background()
	fake := &runner.Fake{}
	fake.AddRule(runner.Rule{
		Contains: []string{"rev-parse", "HEAD"},
		Result:   runner.Result{ExitCode: 0, Stdout: "deadbeef\n"},
	})
	restore := runner.Guard(fake)
	defer restore()

	plan, err := imageutil.Publish(ctx, imageutil.PublishOptions{ImagePrefix: "ghcr.io/me/app"})
	require.NoError(t, err)
	assert.Equal(t, []string{"deadbeef", "latest"}, plan.Tags)
}

func TestPublishDryRunSkipsExecution(t *testing.T) {
	ctx := context.Background()
	fake := &runner.Fake{}
	restore := runner.Guard(fake)
	defer restore()

	plan, err := imageutil.Publish(ctx, imageutil.PublishOptions{
		ImagePrefix: "ghcr.io/me/app",
		Tags:        []string{"v1"},
		DryRun:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ghcr.io/me/app:v1"}, plan.WouldPush)
	assert.Empty(t, fake.Invocations(), "dry run must not shell out")
}

func TestPublishNoPushSkipsPushCommands(t *testing.T) {
	ctx := context.Background()
	fake := &runner.Fake{}
	restore := runner.Guard(fake)
	defer restore()

	_, err := imageutil.Publish(ctx, imageutil.PublishOptions{
		ImagePrefix: "ghcr.io/me/app",
		Tags:        []string{"v1"},
		NoPush:      true,
	})
	require.NoError(t, err)

	for _, cmd := range fake.Invocations() {
		assert.NotContains(t, cmd, "podman push")
	}
}

func TestPublishRequiresImagePrefix(t *testing.T) {
	ctx := context.Background()
	_, err := imageutil.Publish(ctx, imageutil.PublishOptions{Tags: []string{"v1"}})
	assert.Error(t, err)
}

func assertAnyContains(t *testing.T, haystack []string, needle string) {
	t.Helper()
	for _, s := range haystack {
		if strings.Contains(s, needle) {
			return
		}
	}
	t.Fatalf("expected one of %v to contain %q", haystack, needle)
}

package orchestrator

import (
	"testing"

	"github.com/deepctl/deep/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestResolveImageRefPrefersExplicitInput(t *testing.T) {
	ref, err := resolveImageRef("ghcr.io/me/app:v1", config.ConfigSnapshot{}, "sha")
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/me/app:v1", ref)
}

func TestResolveImageRefFallsBackToDeployImage(t *testing.T) {
	snapshot := config.ConfigSnapshot{Deploy: config.DeployConfig{Image: strPtr("ghcr.io/me/app:fixed")}}
	ref, err := resolveImageRef("", snapshot, "sha")
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/me/app:fixed", ref)
}

func TestResolveImageRefBuildsFromPrefixAndGitSHAStrategy(t *testing.T) {
	snapshot := config.ConfigSnapshot{Deploy: config.DeployConfig{ImagePrefix: strPtr("ghcr.io/me/app")}}
	ref, err := resolveImageRef("", snapshot, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/me/app:deadbeef", ref)
}

func TestResolveImageRefBuildsFromPrefixAndLatestStrategy(t *testing.T) {
	snapshot := config.ConfigSnapshot{Deploy: config.DeployConfig{
		ImagePrefix: strPtr("ghcr.io/me/app"),
		TagStrategy: strPtr("latest"),
	}}
	ref, err := resolveImageRef("", snapshot, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/me/app:latest", ref)
}

func TestResolveImageRefRejectsUnknownStrategy(t *testing.T) {
	snapshot := config.ConfigSnapshot{Deploy: config.DeployConfig{
		ImagePrefix: strPtr("ghcr.io/me/app"),
		TagStrategy: strPtr("bogus"),
	}}
	_, err := resolveImageRef("", snapshot, "deadbeef")
	assert.Error(t, err)
}

func TestResolveImageRefRequiresSomeSource(t *testing.T) {
	_, err := resolveImageRef("", config.ConfigSnapshot{}, "deadbeef")
	assert.Error(t, err)
}

func TestResolveGitSHAPrefersExplicitInput(t *testing.T) {
	assert.Equal(t, "explicit", resolveGitSHA("explicit", "base", "ghcr.io/me/app:tag"))
}

func TestResolveGitSHAFallsBackToBase(t *testing.T) {
	assert.Equal(t, "base-sha", resolveGitSHA("", "base-sha", "ghcr.io/me/app:tag"))
}

func TestResolveGitSHAFallsBackToImageTagWhenBaseUnknown(t *testing.T) {
	assert.Equal(t, "tag", resolveGitSHA("", "unknown", "ghcr.io/me/app:tag"))
}

func TestResolveGitSHAFallsBackToUnknown(t *testing.T) {
	assert.Equal(t, "unknown", resolveGitSHA("", "unknown", "ghcr.io/me/app"))
}

func TestExtractImageTagFromDigest(t *testing.T) {
	tag, ok := extractImageTag("ghcr.io/me/app@sha256:deadbeef")
	assert.True(t, ok)
	assert.Equal(t, "sha256:deadbeef", tag)
}

func TestExtractImageTagFromTag(t *testing.T) {
	tag, ok := extractImageTag("ghcr.io/me/app:v1")
	assert.True(t, ok)
	assert.Equal(t, "v1", tag)
}

func TestExtractImageTagIgnoresPortInHostWithoutTag(t *testing.T) {
	_, ok := extractImageTag("registry.example.com:5000/me/app")
	assert.False(t, ok)
}

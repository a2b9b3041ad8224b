package unit_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/deepctl/deep/internal/config"
	"github.com/deepctl/deep/internal/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAppQuadletRendersEnvAndHealth(t *testing.T) {
	dir := t.TempDir()
	quadletDir := filepath.Join(dir, "quadlets")

	cmd := "curl -f http://localhost:4321/health"
	snapshot := config.ConfigSnapshot{
		Env:     map[string]string{"FOO": "bar"},
		Port:    4321,
		Domains: []string{"app.example.com"},
		Healthcheck: config.HealthcheckConfig{
			Command:    &cmd,
			IntervalMs: 1500,
			TimeoutMs:  2500,
			Retries:    3,
		},
	}

	require.NoError(t, unit.WriteAppQuadlet(quadletDir, "deep-app-app-r1", "ghcr.io/me/app:latest", snapshot, "app", "r1"))

	contents, err := os.ReadFile(filepath.Join(quadletDir, "deep-app-app-r1.container"))
	require.NoError(t, err)
	s := string(contents)
	assert.Contains(t, s, "Image=ghcr.io/me/app:latest")
	assert.Contains(t, s, "ContainerName=deep-app-app-r1")
	assert.Contains(t, s, "Environment=FOO=bar")
	assert.Contains(t, s, "Environment=PORT=4321")
	assert.Contains(t, s, "HealthCmd=curl -f http://localhost:4321/health")
	assert.Contains(t, s, "HealthInterval=1500ms")
	assert.Contains(t, s, "HealthTimeout=2500ms")
	assert.Contains(t, s, "HealthRetries=3")
}

func TestWriteAppQuadletOmitsHealthBlockWhenNoCommand(t *testing.T) {
	dir := t.TempDir()
	quadletDir := filepath.Join(dir, "quadlets")
	snapshot := config.ConfigSnapshot{Port: 80}

	require.NoError(t, unit.WriteAppQuadlet(quadletDir, "deep-app-app-r1", "img", snapshot, "app", "r1"))
	contents, err := os.ReadFile(filepath.Join(quadletDir, "deep-app-app-r1.container"))
	require.NoError(t, err)
	assert.NotContains(t, string(contents), "HealthCmd=")
}

func TestIsSystemDir(t *testing.T) {
	assert.True(t, unit.IsSystemDir("/etc/containers/systemd"))
	assert.False(t, unit.IsSystemDir("/home/me/.config/containers/systemd"))
}

func TestWriteAddonQuadletDefaultsNetwork(t *testing.T) {
	dir := t.TempDir()
	cfg := config.AddonConfigFile{Image: "postgres:16", Env: map[string]string{"PGDATA": "/data"}}

	require.NoError(t, unit.WriteAddonQuadlet(dir, "pg", cfg))
	contents, err := os.ReadFile(filepath.Join(dir, "deep-addon-pg.container"))
	require.NoError(t, err)
	s := string(contents)
	assert.Contains(t, s, "Network=deep-net")
	assert.Contains(t, s, "ContainerName=deep-addon-pg")
	assert.Contains(t, s, "Environment=PGDATA=/data")
}

func TestWriteCaddyQuadlet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, unit.WriteCaddyQuadlet(unit.CaddyQuadletParams{
		Image: "caddy:2", Name: "deep-caddy", HTTPPort: 80, HTTPSPort: 443,
		DataDir: "/srv/deep/caddy/data", ConfigDir: "/srv/deep/caddy/config", QuadletDir: dir,
	}))
	contents, err := os.ReadFile(filepath.Join(dir, "deep-caddy.container"))
	require.NoError(t, err)
	s := string(contents)
	assert.Contains(t, s, "PublishPort=80:80")
	assert.Contains(t, s, "PublishPort=443:443")
}

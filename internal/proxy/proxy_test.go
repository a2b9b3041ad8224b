package proxy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/deepctl/deep/internal/config"
	"github.com/deepctl/deep/internal/proxy"
	"github.com/deepctl/deep/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoutesFromMarkers(t *testing.T) {
	contents := "\n# deep:app:app\napp.example.com {\n    reverse_proxy deep-app-app-r1:3000\n}\n# deep:end\n"
	dir := t.TempDir()
	path := filepath.Join(dir, "Caddyfile")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cf := proxy.New(path, "deep-caddy")
	routes, err := cf.ListRoutes()
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, []string{"app.example.com"}, routes[0].Hosts)
	assert.Equal(t, []string{"deep-app-app-r1:3000"}, routes[0].Upstreams)
}

func TestUpsertRouteReplacesExistingBlockAndBacksUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Caddyfile")
	old := "\n# deep:app:app\nold.example.com {\n    reverse_proxy deep-app-app-old:3000\n}\n# deep:end\n"
	require.NoError(t, os.WriteFile(path, []byte(old), 0o644))

	fake := &runner.Fake{}
	fake.AddRule(runner.Rule{Contains: []string{"reload"}, Result: runner.Result{ExitCode: 0}})
	restore := runner.Guard(fake)
	defer restore()

	cf := proxy.New(path, "deep-caddy")
	snapshot := config.ConfigSnapshot{Port: 3000, Domains: []string{"new.example.com"}}
	require.NoError(t, cf.UpsertRoute(context.Background(), "app", "new", snapshot))

	updated, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(updated), "new.example.com")
	assert.Contains(t, string(updated), "deep-app-app-new:3000")
	assert.NotContains(t, string(updated), "old.example.com")

	backup, err := os.ReadFile(filepath.Join(dir, "Caddyfile.bak"))
	require.NoError(t, err)
	assert.Contains(t, string(backup), "old.example.com")
}

func TestUpsertRouteRejectsNoDomains(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Caddyfile")
	cf := proxy.New(path, "deep-caddy")
	err := cf.UpsertRoute(context.Background(), "app", "r1", config.ConfigSnapshot{Port: 80})
	assert.Error(t, err)
}

func TestUpsertRouteRollsBackOnReloadFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Caddyfile")
	old := "\n# deep:app:app\nold.example.com {\n    reverse_proxy deep-app-app-old:3000\n}\n# deep:end\n"
	require.NoError(t, os.WriteFile(path, []byte(old), 0o644))

	fake := &runner.Fake{}
	fake.AddRule(runner.Rule{Contains: []string{"reload"}, Result: runner.Result{ExitCode: 1, Stderr: "reload failed"}})
	restore := runner.Guard(fake)
	defer restore()

	cf := proxy.New(path, "deep-caddy")
	snapshot := config.ConfigSnapshot{Port: 3000, Domains: []string{"new.example.com"}}
	err := cf.UpsertRoute(context.Background(), "app", "new", snapshot)
	assert.Error(t, err)

	restored, err2 := os.ReadFile(path)
	require.NoError(t, err2)
	assert.Contains(t, string(restored), "old.example.com", "caddyfile must be restored when reload fails")
}

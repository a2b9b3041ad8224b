package addon_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/deepctl/deep/internal/addon"
	"github.com/deepctl/deep/internal/catalog"
	"github.com/deepctl/deep/internal/config"
	"github.com/deepctl/deep/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}

func openTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	c, err := catalog.Open(filepath.Join(dir, "deep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCreateRejectsKindMismatch(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)
	dir := t.TempDir()

	cfg := config.AddonConfigFile{Image: "postgres:16"}
	mismatched := "redis"
	cfg.Kind = &mismatched

	_, err := addon.Create(ctx, c, dir, "postgres", "pg", cfg)
	assert.Error(t, err)
}

func TestCreateRejectsMissingImage(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)
	dir := t.TempDir()

	_, err := addon.Create(ctx, c, dir, "postgres", "pg", config.AddonConfigFile{})
	assert.Error(t, err)
}

func TestCreatePersistsConfigAndQuadlet(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)
	dir := t.TempDir()

	fake := &runner.Fake{}
	restore := runner.Guard(fake)
	defer restore()

	cfg := config.AddonConfigFile{Image: "postgres:16", Env: map[string]string{"PGDATA": "/data"}}
	row, err := addon.Create(ctx, c, dir, "postgres", "pg", cfg)
	require.NoError(t, err)
	assert.Equal(t, "pg", row.Name)
	assert.Equal(t, "postgres", row.Kind)

	_, statErr := os.Stat(filepath.Join(dir, "pg.toml"))
	require.NoError(t, statErr)
}

func TestListConfigsReturnsEmptyWhenDirMissing(t *testing.T) {
	entries, err := addon.ListConfigs(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBindRunsProvisionAndMergesExportEnv(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)
	dir := t.TempDir()

	app, err := c.CreateApp(ctx, "app", "/srv/deep/repos/app.git")
	require.NoError(t, err)

	addonCfgTOML := `
image = "postgres:16"
bind_env = { STATIC = "1" }
provision = ["echo DB_URL=postgres://app"]
export_env = ["PGHOST"]
`
	require.NoError(t, writeFile(filepath.Join(dir, "pg.toml"), addonCfgTOML))

	fake := &runner.Fake{}
	fake.AddRule(runner.Rule{
		Contains: []string{"exec", "deep-addon-pg", "sh", "-lc", "echo DB_URL=postgres://app"},
		Result:   runner.Result{ExitCode: 0, Stdout: "DB_URL=postgres://app\n"},
	})
	fake.AddRule(runner.Rule{
		Contains: []string{"inspect", "--format", "{{json .Config.Env}}"},
		Result:   runner.Result{ExitCode: 0, Stdout: `["PGHOST=10.0.0.5","OTHER=x"]`},
	})
	restore := runner.Guard(fake)
	defer restore()

	// no current release set: Bind itself succeeds up through BindAddon,
	// but restartAppWithBindings requires one, so set a minimal release first.
	tx, err := c.BeginTx(ctx)
	require.NoError(t, err)
	snapshot := config.ConfigSnapshot{Port: 8080, Domains: []string{"app.example.com"}}
	snapshotJSON, err := json.Marshal(snapshot)
	require.NoError(t, err)
	require.NoError(t, catalog.InsertRelease(ctx, tx, catalog.ReleaseRow{
		ID: "r1", AppID: app.ID, CreatedAt: "2026-01-01T00:00:00Z",
		GitSHA: "deadbeef", ImageRef: "ghcr.io/me/app:latest",
		ImageDigest: "ghcr.io/me/app@sha256:deadbeef", ConfigJSON: string(snapshotJSON),
		Status: catalog.ReleaseStatusActive,
	}))
	require.NoError(t, catalog.SetCurrentRelease(ctx, tx, app.ID, "r1"))
	require.NoError(t, tx.Commit())

	err = addon.Bind(ctx, c, dir, "pg", "app")
	require.NoError(t, err)

	snapshots, err := c.AddonSnapshotsForApp(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	env, ok := snapshots[0].Config["env"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "1", env["STATIC"])
	assert.Equal(t, "postgres://app", env["DB_URL"])
	assert.Equal(t, "10.0.0.5", env["PGHOST"])
	assert.NotContains(t, env, "OTHER", "only export_env-listed keys are copied from the container")
}

func TestUnbindRequiresExistingAddon(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	_, err := c.CreateApp(ctx, "app", "/srv/deep/repos/app.git")
	require.NoError(t, err)

	err = addon.Unbind(ctx, c, "missing", "app")
	assert.Error(t, err)
}

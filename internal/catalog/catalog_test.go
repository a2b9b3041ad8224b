package catalog_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/deepctl/deep/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	c, err := catalog.Open(filepath.Join(dir, "deep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCreateAndGetApp(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	app, err := c.CreateApp(ctx, "blog", "/srv/deep/repos/blog.git")
	require.NoError(t, err)
	assert.NotEmpty(t, app.ID)

	got, ok, err := c.GetAppByName(ctx, "blog")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, app.ID, got.ID)

	_, err = c.CreateApp(ctx, "blog", "/srv/deep/repos/blog2.git")
	assert.Error(t, err, "duplicate app name must fail")

	apps, err := c.ListApps(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)
}

func TestRemoveAppCascadesReleases(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	app, err := c.CreateApp(ctx, "api", "/srv/deep/repos/api.git")
	require.NoError(t, err)

	tx, err := c.BeginTx(ctx)
	require.NoError(t, err)
	release := catalog.ReleaseRow{
		ID: "r1", AppID: app.ID, CreatedAt: "2026-01-01T00:00:00Z",
		GitSHA: "deadbeef", ImageRef: "ghcr.io/me/api:latest",
		ImageDigest: "ghcr.io/me/api@sha256:deadbeef", ConfigJSON: "{}",
		Status: catalog.ReleaseStatusActive,
	}
	require.NoError(t, catalog.InsertRelease(ctx, tx, release))
	require.NoError(t, tx.Commit())

	require.NoError(t, c.RemoveApp(ctx, "api"))

	releases, err := c.ListReleases(ctx, app.ID)
	require.NoError(t, err)
	assert.Empty(t, releases, "releases must cascade-delete with their app")
}

func TestDeployStartFailureDoesNotFlipCurrent(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	app, err := c.CreateApp(ctx, "app", "/srv/deep/repos/app.git")
	require.NoError(t, err)

	tx, err := c.BeginTx(ctx)
	require.NoError(t, err)
	r1 := catalog.ReleaseRow{
		ID: "r1", AppID: app.ID, CreatedAt: "2026-01-01T00:00:00Z",
		GitSHA: "deadbeef", ImageRef: "ghcr.io/me/app:latest",
		ImageDigest: "ghcr.io/me/app@sha256:deadbeef", ConfigJSON: "{}",
		Status: catalog.ReleaseStatusActive,
	}
	require.NoError(t, catalog.InsertRelease(ctx, tx, r1))
	require.NoError(t, catalog.SetCurrentRelease(ctx, tx, app.ID, "r1"))
	require.NoError(t, tx.Commit())

	// simulate a failed deploy attempt of r2: insert it, fail to start it,
	// record the release as failed, and never touch current.
	tx2, err := c.BeginTx(ctx)
	require.NoError(t, err)
	r2 := catalog.ReleaseRow{
		ID: "r2", AppID: app.ID, CreatedAt: "2026-01-02T00:00:00Z",
		GitSHA: "cafebabe", ImageRef: "ghcr.io/me/app:latest",
		ImageDigest: "ghcr.io/me/app@sha256:cafebabe", ConfigJSON: "{}",
		Status: catalog.ReleaseStatusPending,
	}
	require.NoError(t, catalog.InsertRelease(ctx, tx2, r2))
	require.NoError(t, tx2.Commit())

	require.NoError(t, c.SetReleaseStatus(ctx, "r2", catalog.ReleaseStatusFailed))

	current, ok, err := c.CurrentReleaseID(ctx, app.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r1", current, "a failed deploy must not flip the current release")

	failed, ok, err := c.GetReleaseByID(ctx, "r2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, catalog.ReleaseStatusFailed, failed.Status)
}

func TestRetentionPrunesOldReleases(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	app, err := c.CreateApp(ctx, "app", "/srv/deep/repos/app.git")
	require.NoError(t, err)

	insert := func(id, createdAt string) {
		tx, err := c.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, catalog.InsertRelease(ctx, tx, catalog.ReleaseRow{
			ID: id, AppID: app.ID, CreatedAt: createdAt,
			GitSHA: "deadbeef", ImageRef: "ghcr.io/me/app:latest",
			ImageDigest: "ghcr.io/me/app@sha256:deadbeef", ConfigJSON: "{}",
			Status: catalog.ReleaseStatusActive,
		}))
		require.NoError(t, tx.Commit())
	}
	insert("r1", "2026-01-01T00:00:00Z")
	insert("r2", "2026-01-02T00:00:00Z")
	insert("r3", "2026-01-03T00:00:00Z")

	tx, err := c.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, catalog.SetCurrentRelease(ctx, tx, app.ID, "r3"))
	require.NoError(t, tx.Commit())

	// retain=2: keep current (r3) plus the next-newest (r2), prune r1.
	retain := 2
	all, err := c.ListReleases(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)

	current, _, err := c.CurrentReleaseID(ctx, app.ID)
	require.NoError(t, err)

	kept := map[string]bool{current: true}
	for _, r := range all {
		if len(kept) >= retain {
			break
		}
		kept[r.ID] = true
	}
	for _, r := range all {
		if !kept[r.ID] {
			require.NoError(t, c.DeleteDeploymentsForRelease(ctx, r.ID))
			require.NoError(t, c.DeleteRelease(ctx, r.ID))
		}
	}

	remaining, err := c.ListReleases(ctx, app.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
	ids := map[string]bool{}
	for _, r := range remaining {
		ids[r.ID] = true
	}
	assert.True(t, ids["r2"])
	assert.True(t, ids["r3"])
	assert.False(t, ids["r1"])
}

func TestAddonBindRebindAndUnbind(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	app, err := c.CreateApp(ctx, "app", "/srv/deep/repos/app.git")
	require.NoError(t, err)

	addon, err := c.CreateAddon(ctx, "pg", "postgres", `{"image":"postgres:16"}`)
	require.NoError(t, err)

	bindCfg, err := json.Marshal(map[string]string{"STATIC": "1"})
	require.NoError(t, err)
	require.NoError(t, c.BindAddon(ctx, app.ID, addon.ID, string(bindCfg)))

	addons, err := c.ListAddons(ctx)
	require.NoError(t, err)
	require.Len(t, addons, 1)
	assert.Equal(t, "pg", addons[0].Name)

	// re-binding updates config_json in place rather than erroring.
	bindCfg2, err := json.Marshal(map[string]string{"STATIC": "2"})
	require.NoError(t, err)
	require.NoError(t, c.BindAddon(ctx, app.ID, addon.ID, string(bindCfg2)))

	require.NoError(t, c.UnbindAddon(ctx, app.ID, addon.ID))
}

func TestAddonSnapshotsForAppMergesBindingEnv(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	app, err := c.CreateApp(ctx, "app", "/srv/deep/repos/app.git")
	require.NoError(t, err)

	addonCfg, err := json.Marshal(map[string]interface{}{
		"image": "postgres:16",
		"env":   map[string]string{"STATIC": "from-addon", "SHARED": "addon-value"},
	})
	require.NoError(t, err)
	addon, err := c.CreateAddon(ctx, "pg", "postgres", string(addonCfg))
	require.NoError(t, err)

	bindingCfg, err := json.Marshal(map[string]interface{}{
		"env": map[string]string{"SHARED": "binding-value", "EXPORTED": "from-binding"},
	})
	require.NoError(t, err)
	require.NoError(t, c.BindAddon(ctx, app.ID, addon.ID, string(bindingCfg)))

	snapshots, err := c.AddonSnapshotsForApp(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "pg", snapshots[0].Name)
	assert.Equal(t, "postgres", snapshots[0].Kind)

	env, ok := snapshots[0].Config["env"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "from-addon", env["STATIC"], "addon-only keys survive the merge")
	assert.Equal(t, "binding-value", env["SHARED"], "binding env overrides addon env on conflict")
	assert.Equal(t, "from-binding", env["EXPORTED"], "binding-only keys are added")
}

func TestPing(t *testing.T) {
	c := openTestCatalog(t)
	require.NoError(t, c.Ping(context.Background()))
}

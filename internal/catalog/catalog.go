// Package catalog is the durable store: apps, releases, deployments,
// addons, bindings, the current-release pointer, and an append-only event
// log, backed by an embedded single-file SQLite database.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deepctl/deep/internal/config"
	"github.com/deepctl/deep/internal/errs"
	"github.com/deepctl/deep/internal/idgen"
	"github.com/deepctl/deep/internal/logging"

	_ "modernc.org/sqlite"
)

const domain = "catalog"

// AppRow is a stored application.
type AppRow struct {
	ID        string
	Name      string
	RepoPath  string
	CreatedAt string
	UpdatedAt string
}

// ReleaseRow is a stored, immutable release.
type ReleaseRow struct {
	ID           string
	AppID        string
	CreatedAt    string
	GitSHA       string
	ImageRef     string
	ImageDigest  string
	ConfigJSON   string
	Status       string
}

// DeploymentRow is an audit record of one release transition.
type DeploymentRow struct {
	ID            string
	AppID         string
	FromReleaseID *string
	ToReleaseID   *string
	CreatedAt     string
	Status        string
	Error         *string
}

// AddonRow is a stored addon definition.
type AddonRow struct {
	ID         string
	Name       string
	Kind       string
	ConfigJSON string
	CreatedAt  string
}

// Release/deployment status constants.
const (
	ReleaseStatusPending = "pending"
	ReleaseStatusActive  = "active"
	ReleaseStatusFailed  = "failed"

	DeploymentStatusPending   = "pending"
	DeploymentStatusSucceeded = "succeeded"
	DeploymentStatusFailed    = "failed"
)

// Catalog wraps the sqlite connection and exposes CRUD plus scoped
// transactions.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path, enables
// foreign-key enforcement, and applies any pending migrations.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.IO(domain, fmt.Sprintf("failed to open sqlite db at %s", path), err)
	}
	// one writer: sqlite serializes writes anyway, and BeginTx relies on a
	// single live connection so BEGIN/COMMIT apply to the same session.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, errs.IO(domain, "failed to enable foreign keys", err)
	}

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases the underlying connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) migrate() error {
	for _, m := range migrations {
		var exists int
		err := c.db.QueryRow("SELECT version FROM schema_migrations WHERE version = ?", m.version).Scan(&exists)
		if err == nil {
			continue // already applied
		}
		if err != sql.ErrNoRows {
			// schema_migrations itself may not exist yet for version 1; the
			// first migration's batch creates it, so only tolerate that case.
			if m.version != 1 {
				return errs.IO(domain, "failed to check schema_migrations", err)
			}
		}
		if _, err := c.db.Exec(m.sql); err != nil {
			return errs.IO(domain, fmt.Sprintf("failed to apply migration %d", m.version), err)
		}
		if _, err := c.db.Exec(
			"INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)",
			m.version, nowRFC3339(),
		); err != nil {
			return errs.IO(domain, fmt.Sprintf("failed to record migration %d", m.version), err)
		}
	}
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Tx is a scoped transaction capability: InsertRelease and InsertDeployment
// must be callable inside the same transaction as SetCurrentRelease so
// commit is atomic.
type Tx struct {
	tx *sql.Tx
}

// BeginTx starts a new transaction.
func (c *Catalog) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.IO(domain, "failed to begin transaction", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return errs.IO(domain, "failed to commit transaction", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit (no-op error
// ignored) so callers can defer it unconditionally.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// CreateApp inserts a new app row.
func (c *Catalog) CreateApp(ctx context.Context, name, repoPath string) (AppRow, error) {
	now := nowRFC3339()
	id := idgen.New()
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO apps(id, name, repo_path, created_at, updated_at) VALUES(?, ?, ?, ?, ?)",
		id, name, repoPath, now, now,
	)
	if err != nil {
		return AppRow{}, wrapConflictOrIO(err, domain, "failed to create app")
	}
	return AppRow{ID: id, Name: name, RepoPath: repoPath, CreatedAt: now, UpdatedAt: now}, nil
}

// ListApps returns every app, ordered by name ascending.
func (c *Catalog) ListApps(ctx context.Context) ([]AppRow, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, name, repo_path, created_at, updated_at FROM apps ORDER BY name ASC")
	if err != nil {
		return nil, errs.IO(domain, "failed to list apps", err)
	}
	defer rows.Close()

	var out []AppRow
	for rows.Next() {
		var a AppRow
		if err := rows.Scan(&a.ID, &a.Name, &a.RepoPath, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, errs.IO(domain, "failed to scan app row", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAppByName finds an app by name, returning (AppRow{}, false, nil) if
// absent — callers test via the returned bool.
func (c *Catalog) GetAppByName(ctx context.Context, name string) (AppRow, bool, error) {
	var a AppRow
	err := c.db.QueryRowContext(ctx,
		"SELECT id, name, repo_path, created_at, updated_at FROM apps WHERE name = ?", name,
	).Scan(&a.ID, &a.Name, &a.RepoPath, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return AppRow{}, false, nil
	}
	if err != nil {
		return AppRow{}, false, errs.IO(domain, "failed to query app", err)
	}
	return a, true, nil
}

// RemoveApp deletes an app by name; bindings cascade via FK.
func (c *Catalog) RemoveApp(ctx context.Context, name string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM apps WHERE name = ?", name); err != nil {
		return errs.IO(domain, "failed to remove app", err)
	}
	return nil
}

// InsertRelease inserts a pending release inside tx.
func InsertRelease(ctx context.Context, tx *Tx, r ReleaseRow) error {
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO releases(id, app_id, created_at, git_sha, image_ref, image_digest, config_json, status)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AppID, r.CreatedAt, r.GitSHA, r.ImageRef, r.ImageDigest, r.ConfigJSON, r.Status,
	)
	if err != nil {
		return errs.IO(domain, "failed to insert release", err)
	}
	return nil
}

// SetReleaseStatus updates a release's status.
func (c *Catalog) SetReleaseStatus(ctx context.Context, releaseID, status string) error {
	if _, err := c.db.ExecContext(ctx, "UPDATE releases SET status = ? WHERE id = ?", status, releaseID); err != nil {
		return errs.IO(domain, "failed to update release status", err)
	}
	return nil
}

// ListReleases returns releases for an app, newest-first by created_at.
func (c *Catalog) ListReleases(ctx context.Context, appID string) ([]ReleaseRow, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, app_id, created_at, git_sha, image_ref, image_digest, config_json, status
		 FROM releases WHERE app_id = ? ORDER BY created_at DESC`, appID)
	if err != nil {
		return nil, errs.IO(domain, "failed to list releases", err)
	}
	defer rows.Close()

	var out []ReleaseRow
	for rows.Next() {
		var r ReleaseRow
		if err := rows.Scan(&r.ID, &r.AppID, &r.CreatedAt, &r.GitSHA, &r.ImageRef, &r.ImageDigest, &r.ConfigJSON, &r.Status); err != nil {
			return nil, errs.IO(domain, "failed to scan release row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetReleaseByID looks up a release by id.
func (c *Catalog) GetReleaseByID(ctx context.Context, releaseID string) (ReleaseRow, bool, error) {
	var r ReleaseRow
	err := c.db.QueryRowContext(ctx,
		`SELECT id, app_id, created_at, git_sha, image_ref, image_digest, config_json, status
		 FROM releases WHERE id = ?`, releaseID,
	).Scan(&r.ID, &r.AppID, &r.CreatedAt, &r.GitSHA, &r.ImageRef, &r.ImageDigest, &r.ConfigJSON, &r.Status)
	if err == sql.ErrNoRows {
		return ReleaseRow{}, false, nil
	}
	if err != nil {
		return ReleaseRow{}, false, errs.IO(domain, "failed to query release", err)
	}
	return r, true, nil
}

// DeleteRelease removes a release by id.
func (c *Catalog) DeleteRelease(ctx context.Context, releaseID string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM releases WHERE id = ?", releaseID); err != nil {
		return errs.IO(domain, "failed to delete release", err)
	}
	return nil
}

// CurrentReleaseID returns the release id currently receiving traffic for
// an app, or ("", false, nil) if unset.
func (c *Catalog) CurrentReleaseID(ctx context.Context, appID string) (string, bool, error) {
	var releaseID string
	err := c.db.QueryRowContext(ctx,
		"SELECT release_id FROM current_releases WHERE app_id = ?", appID).Scan(&releaseID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.IO(domain, "failed to query current release", err)
	}
	return releaseID, true, nil
}

// SetCurrentRelease upserts the current-release pointer for an app inside tx.
func SetCurrentRelease(ctx context.Context, tx *Tx, appID, releaseID string) error {
	now := nowRFC3339()
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO current_releases(app_id, release_id, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(app_id) DO UPDATE SET release_id = excluded.release_id, updated_at = excluded.updated_at`,
		appID, releaseID, now,
	)
	if err != nil {
		return errs.IO(domain, "failed to set current release", err)
	}
	return nil
}

// InsertDeployment inserts a deployment record inside tx.
func InsertDeployment(ctx context.Context, tx *Tx, id, appID string, fromReleaseID, toReleaseID *string, status string, errStr *string) error {
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO deployments(id, app_id, from_release_id, to_release_id, created_at, status, error)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		id, appID, fromReleaseID, toReleaseID, nowRFC3339(), status, errStr,
	)
	if err != nil {
		return errs.IO(domain, "failed to insert deployment", err)
	}
	return nil
}

// UpdateDeploymentStatus updates a deployment's terminal status.
func (c *Catalog) UpdateDeploymentStatus(ctx context.Context, deploymentID, status string, errStr *string) error {
	_, err := c.db.ExecContext(ctx,
		"UPDATE deployments SET status = ?, error = ? WHERE id = ?", status, errStr, deploymentID)
	if err != nil {
		return errs.IO(domain, "failed to update deployment status", err)
	}
	return nil
}

// DeleteDeploymentsForRelease removes deployment rows referencing a release
// on either side, used by retention before deleting the release itself.
func (c *Catalog) DeleteDeploymentsForRelease(ctx context.Context, releaseID string) error {
	_, err := c.db.ExecContext(ctx,
		"DELETE FROM deployments WHERE from_release_id = ? OR to_release_id = ?", releaseID, releaseID)
	if err != nil {
		return errs.IO(domain, "failed to delete deployments for release", err)
	}
	return nil
}

// ListAddons returns every addon, ordered by name ascending.
func (c *Catalog) ListAddons(ctx context.Context) ([]AddonRow, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, name, kind, config_json, created_at FROM addons ORDER BY name ASC")
	if err != nil {
		return nil, errs.IO(domain, "failed to list addons", err)
	}
	defer rows.Close()

	var out []AddonRow
	for rows.Next() {
		var a AddonRow
		if err := rows.Scan(&a.ID, &a.Name, &a.Kind, &a.ConfigJSON, &a.CreatedAt); err != nil {
			return nil, errs.IO(domain, "failed to scan addon row", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAddon inserts a new addon row.
func (c *Catalog) CreateAddon(ctx context.Context, name, kind, configJSON string) (AddonRow, error) {
	now := nowRFC3339()
	id := idgen.New()
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO addons(id, name, kind, config_json, created_at) VALUES(?, ?, ?, ?, ?)",
		id, name, kind, configJSON, now,
	)
	if err != nil {
		return AddonRow{}, wrapConflictOrIO(err, domain, "failed to create addon")
	}
	return AddonRow{ID: id, Name: name, Kind: kind, ConfigJSON: configJSON, CreatedAt: now}, nil
}

// UpsertAddon creates or updates an addon by name.
func (c *Catalog) UpsertAddon(ctx context.Context, name, kind, configJSON string) (AddonRow, error) {
	existing, ok, err := c.GetAddonByName(ctx, name)
	if err != nil {
		return AddonRow{}, err
	}
	if ok {
		_, err := c.db.ExecContext(ctx,
			"UPDATE addons SET kind = ?, config_json = ? WHERE name = ?", kind, configJSON, name)
		if err != nil {
			return AddonRow{}, errs.IO(domain, "failed to update addon", err)
		}
		existing.Kind = kind
		existing.ConfigJSON = configJSON
		return existing, nil
	}
	return c.CreateAddon(ctx, name, kind, configJSON)
}

// DestroyAddon deletes an addon by name; bindings cascade via FK.
func (c *Catalog) DestroyAddon(ctx context.Context, name string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM addons WHERE name = ?", name); err != nil {
		return errs.IO(domain, "failed to destroy addon", err)
	}
	return nil
}

// BindAddon associates an addon with an app, upserting the binding's env
// overrides on repeat binds.
func (c *Catalog) BindAddon(ctx context.Context, appID, addonID, configJSON string) error {
	id := idgen.New()
	now := nowRFC3339()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO bindings(id, app_id, addon_id, created_at, config_json) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(app_id, addon_id) DO UPDATE SET config_json = excluded.config_json`,
		id, appID, addonID, now, configJSON,
	)
	if err != nil {
		return errs.IO(domain, "failed to bind addon", err)
	}
	return nil
}

// UnbindAddon removes a binding.
func (c *Catalog) UnbindAddon(ctx context.Context, appID, addonID string) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM bindings WHERE app_id = ? AND addon_id = ?", appID, addonID)
	if err != nil {
		return errs.IO(domain, "failed to unbind addon", err)
	}
	return nil
}

// GetAddonByName finds an addon by name.
func (c *Catalog) GetAddonByName(ctx context.Context, name string) (AddonRow, bool, error) {
	var a AddonRow
	err := c.db.QueryRowContext(ctx,
		"SELECT id, name, kind, config_json, created_at FROM addons WHERE name = ?", name,
	).Scan(&a.ID, &a.Name, &a.Kind, &a.ConfigJSON, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return AddonRow{}, false, nil
	}
	if err != nil {
		return AddonRow{}, false, errs.IO(domain, "failed to query addon", err)
	}
	return a, true, nil
}

// AddonSnapshotsForApp returns the bound addons for an app, ordered by
// name, with each addon's stored config merged with its per-app binding
// env overrides (binding env wins on key conflicts).
func (c *Catalog) AddonSnapshotsForApp(ctx context.Context, appID string) ([]config.AddonSnapshot, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT addons.name, addons.kind, addons.config_json, bindings.config_json
		 FROM addons
		 INNER JOIN bindings ON bindings.addon_id = addons.id
		 WHERE bindings.app_id = ?
		 ORDER BY addons.name ASC`, appID)
	if err != nil {
		return nil, errs.IO(domain, "failed to query addon snapshots", err)
	}
	defer rows.Close()

	var out []config.AddonSnapshot
	for rows.Next() {
		var name, kind, addonConfigJSON, bindingConfigJSON string
		if err := rows.Scan(&name, &kind, &addonConfigJSON, &bindingConfigJSON); err != nil {
			return nil, errs.IO(domain, "failed to scan addon snapshot row", err)
		}
		var addonConfig map[string]interface{}
		_ = json.Unmarshal([]byte(addonConfigJSON), &addonConfig)
		var bindingConfig map[string]interface{}
		_ = json.Unmarshal([]byte(bindingConfigJSON), &bindingConfig)
		merged := mergeBindingEnv(addonConfig, bindingConfig)
		out = append(out, config.AddonSnapshot{Name: name, Kind: kind, Config: merged})
	}
	return out, rows.Err()
}

// mergeBindingEnv overlays binding_config["env"] onto addon_config["env"],
// binding entries winning on key conflicts.
func mergeBindingEnv(addonConfig, bindingConfig map[string]interface{}) map[string]interface{} {
	if addonConfig == nil {
		addonConfig = map[string]interface{}{}
	}
	bindingEnv, _ := bindingConfig["env"].(map[string]interface{})
	if bindingEnv == nil {
		return addonConfig
	}
	env, _ := addonConfig["env"].(map[string]interface{})
	if env == nil {
		env = map[string]interface{}{}
	}
	for k, v := range bindingEnv {
		env[k] = v
	}
	addonConfig["env"] = env
	return addonConfig
}

// InsertEvent appends an audit event. Failures are logged and swallowed:
// callers never see an error from this call, matching the original's
// "insert_event never fails the calling operation" rule.
func (c *Catalog) InsertEvent(ctx context.Context, kind, payloadJSON string) {
	id := idgen.New()
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO events(id, ts, kind, payload_json) VALUES(?, ?, ?, ?)",
		id, nowRFC3339(), kind, payloadJSON,
	)
	if err != nil {
		logging.Warnf("failed to insert event %s: %v", kind, err)
	}
}

// Ping verifies the connection is alive.
func (c *Catalog) Ping(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "SELECT 1"); err != nil {
		return errs.IO(domain, "ping failed", err)
	}
	return nil
}

func wrapConflictOrIO(err error, domain, message string) error {
	// modernc.org/sqlite surfaces unique-constraint violations with this
	// substring; there is no typed sentinel to switch on portably.
	if err != nil && containsUniqueConstraint(err.Error()) {
		return errs.Conflict(domain, message, err)
	}
	return errs.IO(domain, message, err)
}

func containsUniqueConstraint(msg string) bool {
	return contains(msg, "UNIQUE constraint failed") || contains(msg, "constraint failed: UNIQUE")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

package catalog

// migrations holds ordered, idempotent DDL applied once per version and
// tracked in schema_migrations — mirroring the original's
// migrations/001_init.sql + 002_bindings_config.sql pair.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS apps (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	repo_path TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS releases (
	id TEXT PRIMARY KEY,
	app_id TEXT NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
	created_at TEXT NOT NULL,
	git_sha TEXT NOT NULL,
	image_ref TEXT NOT NULL,
	image_digest TEXT NOT NULL,
	config_json TEXT NOT NULL,
	status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_releases_app_id ON releases(app_id);

CREATE TABLE IF NOT EXISTS deployments (
	id TEXT PRIMARY KEY,
	app_id TEXT NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
	from_release_id TEXT REFERENCES releases(id),
	to_release_id TEXT REFERENCES releases(id),
	created_at TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT
);

CREATE TABLE IF NOT EXISTS current_releases (
	app_id TEXT PRIMARY KEY REFERENCES apps(id) ON DELETE CASCADE,
	release_id TEXT NOT NULL REFERENCES releases(id),
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS addons (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	config_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bindings (
	id TEXT PRIMARY KEY,
	app_id TEXT NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
	addon_id TEXT NOT NULL REFERENCES addons(id) ON DELETE CASCADE,
	created_at TEXT NOT NULL,
	UNIQUE(app_id, addon_id)
);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	ts TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);
`,
	},
	{
		version: 2,
		sql:     `ALTER TABLE bindings ADD COLUMN config_json TEXT NOT NULL DEFAULT '{}';`,
	},
}

// Package config decodes app.toml / addon .toml documents and resolves the
// config-path priority chain used by the CLI boundary.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/deepctl/deep/internal/errs"
)

// HealthcheckKind selects how the runtime probes a release's container.
type HealthcheckKind string

const (
	HealthHTTP HealthcheckKind = "http"
	HealthTCP  HealthcheckKind = "tcp"
)

// HealthcheckConfig carries the resolved healthcheck envelope.
type HealthcheckConfig struct {
	Kind       HealthcheckKind `toml:"kind"`
	Path       string          `toml:"path"`
	Retries    uint32          `toml:"retries"`
	TimeoutMs  uint64          `toml:"timeout_ms"`
	IntervalMs uint64          `toml:"interval_ms"`
	Command    *string         `toml:"command,omitempty"`
}

// DefaultHealthcheckConfig mirrors the original's serde defaults.
func DefaultHealthcheckConfig() HealthcheckConfig {
	return HealthcheckConfig{
		Kind:       HealthHTTP,
		Path:       "/",
		Retries:    10,
		TimeoutMs:  2000,
		IntervalMs: 500,
	}
}

// DeployConfig carries per-app deploy defaults.
type DeployConfig struct {
	Image         *string `toml:"image,omitempty"`
	ImagePrefix   *string `toml:"image_prefix,omitempty"`
	TagStrategy   *string `toml:"tag_strategy,omitempty"`
	GitRef        *string `toml:"git_ref,omitempty"`
	QuadletDir    *string `toml:"quadlet_dir,omitempty"`
	ImageTemplate *string `toml:"image_template,omitempty"`
	Retain        uint32  `toml:"retain"`
}

// DefaultDeployConfig mirrors the original's serde default for retain.
func DefaultDeployConfig() DeployConfig {
	return DeployConfig{Retain: 10}
}

// AppSection is the [app] table of app.toml.
type AppSection struct {
	Name    string   `toml:"name"`
	Port    uint16   `toml:"port"`
	Domains []string `toml:"domains"`
}

// AppConfig is the full decoded app.toml document.
type AppConfig struct {
	App         AppSection        `toml:"app"`
	Env         map[string]string `toml:"env"`
	Healthcheck HealthcheckConfig `toml:"healthcheck"`
	Deploy      DeployConfig      `toml:"deploy"`
}

// AddonSnapshot is an addon's config as embedded immutably in a release.
type AddonSnapshot struct {
	Name   string                 `json:"name"`
	Kind   string                 `json:"kind"`
	Config map[string]interface{} `json:"config"`
}

// ConfigSnapshot is the immutable per-release configuration document.
type ConfigSnapshot struct {
	Env         map[string]string `json:"env"`
	Port        uint16            `json:"port"`
	Domains     []string          `json:"domains"`
	Addons      []AddonSnapshot   `json:"addons"`
	Healthcheck HealthcheckConfig `json:"healthcheck"`
	Deploy      DeployConfig      `json:"deploy"`
}

// ToSnapshot converts the loaded app config plus resolved addon snapshots
// into an immutable ConfigSnapshot for a new release.
func (c AppConfig) ToSnapshot(addons []AddonSnapshot) ConfigSnapshot {
	return ConfigSnapshot{
		Env:         c.Env,
		Port:        c.App.Port,
		Domains:     c.App.Domains,
		Addons:      addons,
		Healthcheck: c.Healthcheck,
		Deploy:      c.Deploy,
	}
}

// AddonConfigFile is the decoded form of an addon's .toml document. It also
// carries json tags matching the toml ones, since its config_json
// serialization is read back by internal/catalog's addon/binding env merge
// and must use the same lowercase keys ("env", ...) either way.
type AddonConfigFile struct {
	Kind             *string           `toml:"kind,omitempty" json:"kind,omitempty"`
	Image            string            `toml:"image" json:"image"`
	Env              map[string]string `toml:"env" json:"env"`
	Volumes          []string          `toml:"volumes" json:"volumes"`
	Ports            []string          `toml:"ports" json:"ports"`
	Network          *string           `toml:"network,omitempty" json:"network,omitempty"`
	Provision        []string          `toml:"provision" json:"provision"`
	ExportEnv        []string          `toml:"export_env" json:"export_env"`
	BindEnv          map[string]string `toml:"bind_env" json:"bind_env"`
	HealthCmd        *string           `toml:"health_cmd,omitempty" json:"health_cmd,omitempty"`
	HealthIntervalMs *uint64           `toml:"health_interval_ms,omitempty" json:"health_interval_ms,omitempty"`
	HealthTimeoutMs  *uint64           `toml:"health_timeout_ms,omitempty" json:"health_timeout_ms,omitempty"`
	HealthRetries    *uint32           `toml:"health_retries,omitempty" json:"health_retries,omitempty"`
}

// LoadAppConfig reads and decodes app.toml at path, filling serde-style
// defaults for omitted [healthcheck]/[deploy] fields the same way the
// original's per-field #[serde(default = ...)] attributes do.
func LoadAppConfig(path string) (AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, errs.IO("config", fmt.Sprintf("failed to read app config at %s", path), err)
	}

	cfg := AppConfig{
		Healthcheck: DefaultHealthcheckConfig(),
		Deploy:      DefaultDeployConfig(),
	}
	meta, err := toml.Decode(string(raw), &cfg)
	if err != nil {
		return AppConfig{}, errs.Validation("config", "failed to parse app.toml", err)
	}
	applyHealthcheckDefaults(&cfg.Healthcheck, meta)
	applyDeployDefaults(&cfg.Deploy, meta)
	if cfg.Env == nil {
		cfg.Env = map[string]string{}
	}
	return cfg, nil
}

func applyHealthcheckDefaults(hc *HealthcheckConfig, meta toml.MetaData) {
	defaults := DefaultHealthcheckConfig()
	if !meta.IsDefined("healthcheck", "kind") || hc.Kind == "" {
		hc.Kind = defaults.Kind
	}
	if !meta.IsDefined("healthcheck", "path") || hc.Path == "" {
		hc.Path = defaults.Path
	}
	if !meta.IsDefined("healthcheck", "retries") {
		hc.Retries = defaults.Retries
	}
	if !meta.IsDefined("healthcheck", "timeout_ms") {
		hc.TimeoutMs = defaults.TimeoutMs
	}
	if !meta.IsDefined("healthcheck", "interval_ms") {
		hc.IntervalMs = defaults.IntervalMs
	}
}

func applyDeployDefaults(dc *DeployConfig, meta toml.MetaData) {
	if !meta.IsDefined("deploy", "retain") {
		dc.Retain = DefaultDeployConfig().Retain
	}
}

// LoadAddonConfig reads and decodes an addon .toml document at path.
func LoadAddonConfig(path string) (AddonConfigFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return AddonConfigFile{}, errs.IO("config", fmt.Sprintf("failed to read addon config at %s", path), err)
	}
	var cfg AddonConfigFile
	if _, err := toml.Decode(string(raw), &cfg); err != nil {
		return AddonConfigFile{}, errs.Validation("config", "failed to parse addon config", err)
	}
	return cfg, nil
}

// ResolvePath implements the config-path priority chain from §4.8: explicit
// CLI path > /srv/deep/apps/<app>/app.toml > <repoPath>/app.toml >
// ./app.toml > error.
func ResolvePath(explicit, app, repoPath string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	candidates := []string{
		filepath.Join("/srv/deep/apps", app, "app.toml"),
	}
	if repoPath != "" {
		candidates = append(candidates, filepath.Join(repoPath, "app.toml"))
	}
	candidates = append(candidates, "app.toml")

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errs.NotFound("config", fmt.Sprintf("no app.toml found for %s in any of: %v", app, candidates), nil)
}

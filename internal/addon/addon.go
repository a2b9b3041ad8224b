// Package addon manages addon lifecycle (create/destroy/start/stop/restart)
// and the bind/unbind pipeline that provisions credentials into an app's
// environment.
package addon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/deepctl/deep/internal/catalog"
	"github.com/deepctl/deep/internal/config"
	"github.com/deepctl/deep/internal/errs"
	"github.com/deepctl/deep/internal/logging"
	"github.com/deepctl/deep/internal/orchestrator"
	"github.com/deepctl/deep/internal/runner"
	"github.com/deepctl/deep/internal/runtime"
	"github.com/deepctl/deep/internal/unit"
)

const domain = "addon"

// DefaultConfigDir is where addon .toml documents live by default.
const DefaultConfigDir = "/srv/deep/addons"

// ConfigPath builds the on-disk path for an addon's config document.
func ConfigPath(dir, name string) string {
	return filepath.Join(dir, name+".toml")
}

// ListEntry is a summary row for `addons list`.
type ListEntry struct {
	Name  string
	Kind  string
	Image string
}

// ListConfigs enumerates every addon .toml file in dir.
func ListConfigs(dir string) ([]ListEntry, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.IO(domain, fmt.Sprintf("failed to read %s", dir), err)
	}
	var out []ListEntry
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".toml")
		cfg, err := config.LoadAddonConfig(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		kind := "unknown"
		if cfg.Kind != nil {
			kind = *cfg.Kind
		}
		out = append(out, ListEntry{Name: name, Kind: kind, Image: cfg.Image})
	}
	return out, nil
}

// Create persists an addon config document, registers it in the catalog,
// and starts its quadlet unit. A config without an image is rejected.
func Create(ctx context.Context, cat *catalog.Catalog, configDir, kind, name string, cfg config.AddonConfigFile) (catalog.AddonRow, error) {
	if cfg.Kind == nil {
		cfg.Kind = &kind
	} else if *cfg.Kind != kind {
		return catalog.AddonRow{}, errs.Validation(domain, fmt.Sprintf("addon kind mismatch: config has %s, CLI has %s", *cfg.Kind, kind), nil)
	}
	if strings.TrimSpace(cfg.Image) == "" {
		return catalog.AddonRow{}, errs.Validation(domain, "addon config must include an image", nil)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return catalog.AddonRow{}, errs.IO(domain, fmt.Sprintf("failed to create %s", configDir), err)
	}
	if err := writeConfigFile(ConfigPath(configDir, name), cfg); err != nil {
		return catalog.AddonRow{}, err
	}

	configJSON, err := marshalConfig(cfg)
	if err != nil {
		return catalog.AddonRow{}, err
	}

	addonRow, err := cat.UpsertAddon(ctx, name, kind, configJSON)
	if err != nil {
		return catalog.AddonRow{}, err
	}

	if err := startQuadlet(ctx, name, cfg); err != nil {
		return catalog.AddonRow{}, err
	}
	return addonRow, nil
}

// Destroy removes an addon's config file and catalog record.
func Destroy(ctx context.Context, cat *catalog.Catalog, configDir, name string) error {
	path := ConfigPath(configDir, name)
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return errs.IO(domain, fmt.Sprintf("failed to remove %s", path), err)
		}
	}
	return cat.DestroyAddon(ctx, name)
}

// Action runs start/stop/restart against an addon's systemd unit.
func Action(ctx context.Context, name, action string) error {
	unitName := "deep-addon-" + name
	quadletDir := unit.DefaultQuadletDir()
	svc := unitName + ".service"
	switch action {
	case "start", "stop", "restart":
		return unit.SystemctlForDir(ctx, quadletDir, action, svc)
	default:
		return errs.Validation(domain, fmt.Sprintf("unknown addon action %s", action), nil)
	}
}

// Bind provisions an addon into an app: runs provision commands inside the
// addon container, overlays export_env values read from its inspected
// environment, stores the merged env as the binding's config, then
// restarts the app with the new bindings applied.
func Bind(ctx context.Context, cat *catalog.Catalog, configDir, addonName, appName string) error {
	appRow, ok, err := cat.GetAppByName(ctx, appName)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound(domain, fmt.Sprintf("app not found: %s", appName), nil)
	}

	cfg, err := config.LoadAddonConfig(ConfigPath(configDir, addonName))
	if err != nil {
		return err
	}
	kind := "generic"
	if cfg.Kind != nil {
		kind = *cfg.Kind
	}
	configJSON, err := marshalConfig(cfg)
	if err != nil {
		return err
	}
	addonRow, err := cat.UpsertAddon(ctx, addonName, kind, configJSON)
	if err != nil {
		return err
	}

	bindingEnv, err := provisionOnBind(ctx, addonRow, cfg, appRow)
	if err != nil {
		return err
	}
	bindingJSON, err := json.Marshal(map[string]interface{}{"env": bindingEnv})
	if err != nil {
		return errs.IO(domain, "failed to marshal binding env", err)
	}
	if err := cat.BindAddon(ctx, appRow.ID, addonRow.ID, string(bindingJSON)); err != nil {
		return err
	}
	return restartAppWithBindings(ctx, cat, appRow)
}

// Unbind removes an addon's binding from an app and restarts the app.
func Unbind(ctx context.Context, cat *catalog.Catalog, addonName, appName string) error {
	appRow, ok, err := cat.GetAppByName(ctx, appName)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound(domain, fmt.Sprintf("app not found: %s", appName), nil)
	}
	addonRow, ok, err := cat.GetAddonByName(ctx, addonName)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound(domain, fmt.Sprintf("addon not found: %s", addonName), nil)
	}
	if err := cat.UnbindAddon(ctx, appRow.ID, addonRow.ID); err != nil {
		return err
	}
	return restartAppWithBindings(ctx, cat, appRow)
}

func startQuadlet(ctx context.Context, name string, cfg config.AddonConfigFile) error {
	rt, err := runtime.Detect(ctx)
	if err != nil {
		return err
	}
	if err := rt.EnsureNetwork(ctx); err != nil {
		return err
	}
	if len(cfg.Ports) > 0 {
		logging.Warnf("addon %s publishes ports to the host; omit ports to keep it internal", name)
	}
	quadletDir := unit.DefaultQuadletDir()
	if err := unit.WriteAddonQuadlet(quadletDir, name, cfg); err != nil {
		return err
	}
	if err := unit.SystemctlForDir(ctx, quadletDir, "daemon-reload"); err != nil {
		return err
	}
	return unit.SystemctlForDir(ctx, quadletDir, "enable", "--now", "deep-addon-"+name+".service")
}

func provisionOnBind(ctx context.Context, addonRow catalog.AddonRow, cfg config.AddonConfigFile, app catalog.AppRow) (map[string]string, error) {
	env := map[string]string{}
	for k, v := range cfg.BindEnv {
		env[k] = v
	}
	container := "deep-addon-" + addonRow.Name
	commandEnv, err := runProvisionCommands(ctx, container, app, cfg.Provision)
	if err != nil {
		return nil, err
	}
	for k, v := range commandEnv {
		env[k] = v
	}
	exported, err := readContainerEnv(ctx, container)
	if err != nil {
		return nil, err
	}
	for _, key := range cfg.ExportEnv {
		if v, ok := exported[key]; ok {
			env[key] = v
		}
	}
	return env, nil
}

func runProvisionCommands(ctx context.Context, container string, app catalog.AppRow, commands []string) (map[string]string, error) {
	env := map[string]string{}
	for _, cmd := range commands {
		res, err := runner.Run(ctx, "podman", "exec",
			"-e", fmt.Sprintf("DEEP_APP=%s", app.Name),
			"-e", fmt.Sprintf("DEEP_APP_ID=%s", app.ID),
			"-e", fmt.Sprintf("DEEP_ADDON=%s", container),
			container, "sh", "-lc", cmd,
		)
		if err != nil {
			return nil, errs.External(domain, "failed to run addon provision command", err)
		}
		if !res.Success() {
			return nil, errs.External(domain, fmt.Sprintf("addon provision failed: %s", strings.TrimSpace(res.Stderr)), nil)
		}
		scanner := bufio.NewScanner(strings.NewReader(res.Stdout))
		for scanner.Scan() {
			line := scanner.Text()
			if key, value, ok := strings.Cut(line, "="); ok && strings.TrimSpace(key) != "" {
				env[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
		}
	}
	return env, nil
}

func readContainerEnv(ctx context.Context, container string) (map[string]string, error) {
	res, err := runner.Run(ctx, "podman", "inspect", "--format", "{{json .Config.Env}}", container)
	if err != nil {
		return nil, errs.External(domain, "failed to read addon container env", err)
	}
	if !res.Success() {
		return nil, errs.External(domain, fmt.Sprintf("failed to inspect addon container %s", container), nil)
	}
	var values []string
	_ = json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &values)
	env := map[string]string{}
	for _, entry := range values {
		if key, value, ok := strings.Cut(entry, "="); ok {
			env[key] = value
		}
	}
	return env, nil
}

func restartAppWithBindings(ctx context.Context, cat *catalog.Catalog, app catalog.AppRow) error {
	releaseID, ok, err := cat.CurrentReleaseID(ctx, app.ID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound(domain, "no current release set", nil)
	}
	release, ok, err := cat.GetReleaseByID(ctx, releaseID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound(domain, "current release not found", nil)
	}

	var snapshot config.ConfigSnapshot
	if err := json.Unmarshal([]byte(release.ConfigJSON), &snapshot); err != nil {
		return errs.Corrupt(domain, "invalid release config", err)
	}
	addons, err := cat.AddonSnapshotsForApp(ctx, app.ID)
	if err != nil {
		return err
	}
	snapshot.Addons = addons
	orchestrator.ApplyAddonEnv(&snapshot)
	quadletDir := unit.DefaultQuadletDir()
	if snapshot.Deploy.QuadletDir != nil && *snapshot.Deploy.QuadletDir != "" {
		quadletDir = *snapshot.Deploy.QuadletDir
	}

	unitName := runtime.AppContainerName(app.Name, releaseID)
	if err := unit.WriteAppQuadlet(quadletDir, unitName, release.ImageRef, snapshot, app.Name, releaseID); err != nil {
		return err
	}
	if err := unit.SystemctlForDir(ctx, quadletDir, "daemon-reload"); err != nil {
		return err
	}
	return unit.SystemctlForDir(ctx, quadletDir, "restart", unitName+".service")
}

func marshalConfig(cfg config.AddonConfigFile) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", errs.IO(domain, "failed to marshal addon config", err)
	}
	return string(raw), nil
}

func writeConfigFile(path string, cfg config.AddonConfigFile) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return errs.IO(domain, "failed to serialize addon config", err)
	}
	raw := buf.Bytes()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.IO(domain, fmt.Sprintf("failed to create %s", filepath.Dir(path)), err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errs.IO(domain, fmt.Sprintf("failed to write addon config at %s", path), err)
	}
	return nil
}

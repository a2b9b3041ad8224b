// Package unit renders quadlet container-unit files and wraps systemctl,
// selecting user vs system scope the way the rest of the stack does.
package unit

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepctl/deep/internal/config"
	"github.com/deepctl/deep/internal/errs"
	"github.com/deepctl/deep/internal/runner"
)

const domain = "unit"

//go:embed templates/app.container
var appTemplate string

//go:embed templates/addon.container
var addonTemplate string

//go:embed templates/caddy.container
var caddyTemplate string

// DefaultQuadletDir returns $HOME/.config/containers/systemd, falling back
// to the system-scope directory when $HOME is unset.
func DefaultQuadletDir() string {
	if home, ok := os.LookupEnv("HOME"); ok && home != "" {
		return filepath.Join(home, ".config", "containers", "systemd")
	}
	return "/etc/containers/systemd"
}

// IsSystemDir reports whether dir is the system-scope quadlet directory.
func IsSystemDir(dir string) bool {
	return strings.HasPrefix(dir, "/etc/containers/systemd")
}

// SystemctlForDir runs systemctl in the scope implied by dir: --user unless
// dir is the system path.
func SystemctlForDir(ctx context.Context, dir string, args ...string) error {
	fullArgs := args
	if !IsSystemDir(dir) {
		fullArgs = append([]string{"--user"}, args...)
	}
	res, err := runner.Run(ctx, "systemctl", fullArgs...)
	if err != nil {
		return errs.External(domain, fmt.Sprintf("failed to run systemctl %v", args), err)
	}
	if !res.Success() {
		return errs.External(domain, fmt.Sprintf("systemctl failed: %v (%s)", args, strings.TrimSpace(res.Stderr)), nil)
	}
	return nil
}

// SystemctlAny tries --user first, falling back to system scope.
func SystemctlAny(ctx context.Context, args ...string) error {
	userArgs := append([]string{"--user"}, args...)
	if res, err := runner.Run(ctx, "systemctl", userArgs...); err == nil && res.Success() {
		return nil
	}
	res, err := runner.Run(ctx, "systemctl", args...)
	if err != nil {
		return errs.External(domain, fmt.Sprintf("failed to run systemctl %v", args), err)
	}
	if !res.Success() {
		return errs.External(domain, fmt.Sprintf("systemctl failed: %v (%s)", args, strings.TrimSpace(res.Stderr)), nil)
	}
	return nil
}

// SystemctlActiveAny reports whether name.service is active in either
// scope, trying --user first.
func SystemctlActiveAny(ctx context.Context, name string) (bool, error) {
	unit := name + ".service"
	if res, err := runner.Run(ctx, "systemctl", "--user", "is-active", unit); err == nil && res.Success() {
		return true, nil
	}
	res, err := runner.Run(ctx, "systemctl", "is-active", unit)
	if err != nil {
		return false, errs.External(domain, "failed to run systemctl is-active", err)
	}
	return res.Success(), nil
}

// WriteAppQuadlet renders and writes the quadlet unit file for an app
// release to quadletDir/unitName.container.
func WriteAppQuadlet(quadletDir, unitName, imageRef string, snapshot config.ConfigSnapshot, appName, releaseID string) error {
	var envLines []string
	for key, value := range snapshot.Env {
		envLines = append(envLines, fmt.Sprintf("Environment=%s=%s", key, value))
	}
	envLines = append(envLines, fmt.Sprintf("Environment=PORT=%d", snapshot.Port))

	replacer := strings.NewReplacer(
		"{{app}}", appName,
		"{{release}}", releaseID,
		"{{image}}", imageRef,
		"{{env}}", strings.Join(envLines, "\n"),
		"{{health}}", healthLinesForSnapshot(snapshot),
	)
	contents := replacer.Replace(appTemplate)

	if err := os.MkdirAll(quadletDir, 0o755); err != nil {
		return errs.IO(domain, fmt.Sprintf("failed to create quadlet dir %s", quadletDir), err)
	}
	path := filepath.Join(quadletDir, unitName+".container")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return errs.IO(domain, fmt.Sprintf("failed to write quadlet at %s", path), err)
	}
	return nil
}

// WriteAddonQuadlet renders and writes the quadlet unit file for an addon.
func WriteAddonQuadlet(quadletDir, name string, cfg config.AddonConfigFile) error {
	var envLines []string
	for key, value := range cfg.Env {
		envLines = append(envLines, fmt.Sprintf("Environment=%s=%s", key, value))
	}
	var volumeLines []string
	for _, v := range cfg.Volumes {
		volumeLines = append(volumeLines, fmt.Sprintf("Volume=%s", v))
	}
	var portLines []string
	for _, p := range cfg.Ports {
		portLines = append(portLines, fmt.Sprintf("PublishPort=%s", p))
	}
	network := "deep-net"
	if cfg.Network != nil && *cfg.Network != "" {
		network = *cfg.Network
	}

	replacer := strings.NewReplacer(
		"{{name}}", name,
		"{{image}}", cfg.Image,
		"{{network}}", network,
		"{{env}}", strings.Join(envLines, "\n"),
		"{{volumes}}", strings.Join(volumeLines, "\n"),
		"{{ports}}", strings.Join(portLines, "\n"),
		"{{health}}", healthLinesForAddon(cfg),
	)
	contents := replacer.Replace(addonTemplate)

	if err := os.MkdirAll(quadletDir, 0o755); err != nil {
		return errs.IO(domain, fmt.Sprintf("failed to create quadlet dir %s", quadletDir), err)
	}
	unitName := "deep-addon-" + name
	path := filepath.Join(quadletDir, unitName+".container")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return errs.IO(domain, fmt.Sprintf("failed to write quadlet at %s", path), err)
	}
	return nil
}

// CaddyQuadletParams configures WriteCaddyQuadlet.
type CaddyQuadletParams struct {
	Image      string
	Name       string
	HTTPPort   uint16
	HTTPSPort  uint16
	DataDir    string
	ConfigDir  string
	QuadletDir string
}

// WriteCaddyQuadlet renders and writes the quadlet unit for the shared
// Caddy proxy container.
func WriteCaddyQuadlet(p CaddyQuadletParams) error {
	replacer := strings.NewReplacer(
		"{{image}}", p.Image,
		"{{name}}", p.Name,
		"{{http_port}}", fmt.Sprintf("%d", p.HTTPPort),
		"{{https_port}}", fmt.Sprintf("%d", p.HTTPSPort),
		"{{data_dir}}", p.DataDir,
		"{{config_dir}}", p.ConfigDir,
	)
	contents := replacer.Replace(caddyTemplate)

	if err := os.MkdirAll(p.QuadletDir, 0o755); err != nil {
		return errs.IO(domain, fmt.Sprintf("failed to create quadlet dir %s", p.QuadletDir), err)
	}
	path := filepath.Join(p.QuadletDir, p.Name+".container")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return errs.IO(domain, fmt.Sprintf("failed to write caddy quadlet at %s", path), err)
	}
	return nil
}

func healthLinesForSnapshot(snapshot config.ConfigSnapshot) string {
	if snapshot.Healthcheck.Command == nil || strings.TrimSpace(*snapshot.Healthcheck.Command) == "" {
		return ""
	}
	command := strings.TrimSpace(*snapshot.Healthcheck.Command)
	return fmt.Sprintf("HealthCmd=%s\nHealthInterval=%s\nHealthTimeout=%s\nHealthRetries=%d",
		command, formatDurationMs(snapshot.Healthcheck.IntervalMs), formatDurationMs(snapshot.Healthcheck.TimeoutMs), snapshot.Healthcheck.Retries)
}

func healthLinesForAddon(cfg config.AddonConfigFile) string {
	if cfg.HealthCmd == nil || strings.TrimSpace(*cfg.HealthCmd) == "" {
		return ""
	}
	command := strings.TrimSpace(*cfg.HealthCmd)
	interval := uint64(1000)
	if cfg.HealthIntervalMs != nil {
		interval = *cfg.HealthIntervalMs
	}
	timeout := uint64(1000)
	if cfg.HealthTimeoutMs != nil {
		timeout = *cfg.HealthTimeoutMs
	}
	retries := uint32(3)
	if cfg.HealthRetries != nil {
		retries = *cfg.HealthRetries
	}
	return fmt.Sprintf("HealthCmd=%s\nHealthInterval=%s\nHealthTimeout=%s\nHealthRetries=%d",
		command, formatDurationMs(interval), formatDurationMs(timeout), retries)
}

func formatDurationMs(ms uint64) string {
	if ms%1000 == 0 {
		return fmt.Sprintf("%ds", ms/1000)
	}
	return fmt.Sprintf("%dms", ms)
}

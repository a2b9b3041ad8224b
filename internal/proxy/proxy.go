// Package proxy reconciles app routes into a shared Caddyfile via
// sentinel-bounded managed blocks, with backup-before-write and
// reload-failure rollback.
package proxy

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepctl/deep/internal/config"
	"github.com/deepctl/deep/internal/errs"
	"github.com/deepctl/deep/internal/runtime"
	"github.com/deepctl/deep/internal/unit"
)

const domain = "proxy"

// RouteStatus is a parsed route from the managed Caddyfile.
type RouteStatus struct {
	ID        string
	Hosts     []string
	Upstreams []string
}

// CaddyFile is a Caddyfile-based proxy controller.
type CaddyFile struct {
	hostPath      string
	containerName string
}

// New builds a CaddyFile controller for the given host-path config file and
// the systemd unit/container name of the Caddy service itself.
func New(hostPath, containerName string) *CaddyFile {
	return &CaddyFile{hostPath: hostPath, containerName: containerName}
}

// ContainerName returns the configured Caddy service/container name.
func (c *CaddyFile) ContainerName() string {
	return c.containerName
}

// UpsertRoute replaces (or adds) the managed block for an app and reloads
// Caddy, restoring the prior file if the reload fails.
func (c *CaddyFile) UpsertRoute(ctx context.Context, appName, releaseID string, snapshot config.ConfigSnapshot) error {
	if len(snapshot.Domains) == 0 {
		return errs.Validation(domain, "no domains configured for app; cannot update proxy route", nil)
	}

	upstream := fmt.Sprintf("%s:%d", runtime.AppContainerName(appName, releaseID), snapshot.Port)

	var contents string
	if _, err := os.Stat(c.hostPath); err == nil {
		raw, err := os.ReadFile(c.hostPath)
		if err != nil {
			return errs.IO(domain, fmt.Sprintf("failed to read caddyfile at %s", c.hostPath), err)
		}
		contents = string(raw)
	}

	updated := upsertCaddyfileBlock(contents, appName, snapshot.Domains, upstream)

	if dir := filepath.Dir(c.hostPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.IO(domain, fmt.Sprintf("failed to create %s", dir), err)
		}
	}

	backupPath := strings.TrimSuffix(c.hostPath, filepath.Ext(c.hostPath)) + ".bak"
	if err := os.WriteFile(backupPath, []byte(contents), 0o644); err != nil {
		return errs.IO(domain, fmt.Sprintf("failed to write caddyfile backup at %s", backupPath), err)
	}
	if err := os.WriteFile(c.hostPath, []byte(updated), 0o644); err != nil {
		return errs.IO(domain, fmt.Sprintf("failed to write caddyfile at %s", c.hostPath), err)
	}

	if err := c.Reload(ctx); err != nil {
		if restoreErr := os.WriteFile(c.hostPath, []byte(contents), 0o644); restoreErr != nil {
			return errs.IO(domain, fmt.Sprintf("failed to restore caddyfile at %s", c.hostPath), restoreErr)
		}
		if rollbackErr := c.Reload(ctx); rollbackErr != nil {
			return errs.External(domain, fmt.Sprintf("caddy reload failed: %v; rollback reload failed: %v", err, rollbackErr), nil)
		}
		return errs.External(domain, fmt.Sprintf("caddy reload failed; caddyfile restored: %v", err), nil)
	}
	return nil
}

// ListRoutes parses every managed block currently in the Caddyfile.
func (c *CaddyFile) ListRoutes() ([]RouteStatus, error) {
	if _, err := os.Stat(c.hostPath); err != nil {
		return nil, nil
	}
	raw, err := os.ReadFile(c.hostPath)
	if err != nil {
		return nil, errs.IO(domain, fmt.Sprintf("failed to read caddyfile at %s", c.hostPath), err)
	}
	return parseCaddyfileRoutes(string(raw)), nil
}

// Reload reloads the Caddy service via systemd, trying user then system scope.
func (c *CaddyFile) Reload(ctx context.Context) error {
	return unit.SystemctlAny(ctx, "reload", c.containerName+".service")
}

const (
	markerEnd = "# deep:end"
)

func startMarker(app string) string {
	return "# deep:app:" + app
}

func upsertCaddyfileBlock(contents, app string, domains []string, upstream string) string {
	marker := startMarker(app)
	block := fmt.Sprintf("%s\n%s {\n    reverse_proxy %s\n}\n%s\n", marker, strings.Join(domains, ", "), upstream, markerEnd)

	var lines []string
	inBlock := false
	scanner := bufio.NewScanner(strings.NewReader(contents))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == marker {
			inBlock = true
			continue
		}
		if inBlock && trimmed == markerEnd {
			inBlock = false
			continue
		}
		if !inBlock {
			lines = append(lines, line)
		}
	}

	output := strings.Join(lines, "\n")
	if output != "" && !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	output += block
	return output
}

func parseCaddyfileRoutes(contents string) []RouteStatus {
	var routes []RouteStatus
	var current *RouteStatus

	flush := func() {
		if current != nil {
			routes = append(routes, *current)
			current = nil
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(contents))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		trimmed := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(trimmed, "# deep:app:"); ok {
			flush()
			current = &RouteStatus{ID: "deep-app-" + rest}
			continue
		}
		if trimmed == markerEnd {
			flush()
			continue
		}
		if current == nil {
			continue
		}
		if strings.HasSuffix(trimmed, "{") {
			hosts := strings.TrimSpace(strings.TrimSuffix(trimmed, "{"))
			if hosts != "" {
				parts := strings.Split(hosts, ",")
				for i, p := range parts {
					parts[i] = strings.TrimSpace(p)
				}
				current.Hosts = parts
			}
		} else if rest, ok := strings.CutPrefix(trimmed, "reverse_proxy "); ok {
			current.Upstreams = []string{strings.TrimSpace(rest)}
		}
	}
	flush()
	return routes
}

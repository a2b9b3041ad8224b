// Package orchestrator drives the deploy/rollback release state machine:
// resolve image and git metadata, persist a pending release, start its
// container, healthcheck it, route the proxy to it, then promote it to
// current — with a compensating action at every failure point so a botched
// deploy never flips the current-release pointer.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepctl/deep/internal/catalog"
	"github.com/deepctl/deep/internal/config"
	"github.com/deepctl/deep/internal/errs"
	"github.com/deepctl/deep/internal/gitrepo"
	"github.com/deepctl/deep/internal/idgen"
	"github.com/deepctl/deep/internal/logging"
	"github.com/deepctl/deep/internal/proxy"
	"github.com/deepctl/deep/internal/runtime"
	"github.com/deepctl/deep/internal/unit"
)

const domain = "orchestrator"

// ApplyAddonEnv overlays each bound addon's env map onto the release
// snapshot's top-level env, letting addon-provided keys (static bind_env,
// provision output, exported container env) reach the app container
// without per-key wiring in app.toml.
func ApplyAddonEnv(snapshot *config.ConfigSnapshot) {
	if snapshot.Env == nil {
		snapshot.Env = map[string]string{}
	}
	for _, a := range snapshot.Addons {
		env, ok := a.Config["env"].(map[string]interface{})
		if !ok {
			continue
		}
		for k, v := range env {
			if s, ok := v.(string); ok {
				snapshot.Env[k] = s
			}
		}
	}
}

// DeployOptions mirrors the `deploy` CLI flags.
type DeployOptions struct {
	AppName          string
	Image            string
	GitSHA           string
	ImageDigest      string
	HealthPath       string
	HealthTCP        bool
	HealthRetries    *uint32
	HealthTimeoutMs  *uint64
	HealthIntervalMs *uint64
	SkipProxy        bool
	SkipPull         bool
	ConfigPath       string
	RecordOnly       bool
	DryRun           bool
}

// DeployPlan is returned instead of acting, when DryRun is set.
type DeployPlan struct {
	AppName     string
	ImageRef    string
	GitSHA      string
	Healthcheck config.HealthcheckConfig
	RecordOnly  bool
	SkipPull    bool
	HasDigest   bool
	SkipProxy   bool
}

// DeployResult reports the outcome of a completed (non-dry-run) deploy.
type DeployResult struct {
	ReleaseID  string
	ImageRef   string
	GitSHA     string
	RecordOnly bool
}

// Deps bundles the collaborators Deploy/Rollback need: the catalog and the
// proxy come from the caller so tests can substitute their own without a
// global.
type Deps struct {
	Catalog *catalog.Catalog
	Proxy   *proxy.CaddyFile
}

// Deploy resolves image/git metadata for app, persists a new release, and
// — unless RecordOnly — starts its container, healthchecks it, updates the
// proxy, and promotes it to current. Any failure after the release is
// persisted marks the release and deployment failed without touching the
// current-release pointer.
func Deploy(ctx context.Context, deps Deps, app catalog.AppRow, appConfig config.AppConfig, opts DeployOptions) (*DeployResult, *DeployPlan, error) {
	addonSnapshots, err := deps.Catalog.AddonSnapshotsForApp(ctx, app.ID)
	if err != nil {
		return nil, nil, err
	}
	snapshot := appConfig.ToSnapshot(addonSnapshots)
	ApplyAddonEnv(&snapshot)
	if snapshot.Deploy.QuadletDir == nil || *snapshot.Deploy.QuadletDir == "" {
		dir := unit.DefaultQuadletDir()
		snapshot.Deploy.QuadletDir = &dir
	}
	snapshot.Healthcheck = resolveHealthcheck(snapshot.Healthcheck, opts)

	gitSHABase := resolveGitSHABase(ctx, snapshot.Deploy.GitRef, app.RepoPath)
	imageRef, err := resolveImageRef(opts.Image, snapshot, gitSHABase)
	if err != nil {
		return nil, nil, err
	}

	var rt *runtime.Runtime
	if !opts.RecordOnly {
		rt, err = runtime.Detect(ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	var imageDigest string
	if opts.RecordOnly || opts.SkipPull {
		if opts.ImageDigest != "" {
			imageDigest = opts.ImageDigest
		} else {
			logging.Warnf("image digest not provided; using image ref as digest")
			imageDigest = imageRef
		}
	} else if opts.ImageDigest != "" {
		imageDigest = opts.ImageDigest
	} else {
		imageDigest, err = rt.PullImage(ctx, imageRef)
		if err != nil {
			return nil, nil, err
		}
	}

	gitSHA := resolveGitSHA(opts.GitSHA, gitSHABase, imageRef)

	if opts.DryRun {
		return nil, &DeployPlan{
			AppName:     app.Name,
			ImageRef:    imageRef,
			GitSHA:      gitSHA,
			Healthcheck: snapshot.Healthcheck,
			RecordOnly:  opts.RecordOnly,
			SkipPull:    opts.SkipPull,
			HasDigest:   opts.ImageDigest != "",
			SkipProxy:   opts.SkipProxy,
		}, nil
	}

	configJSON, err := marshalSnapshot(snapshot)
	if err != nil {
		return nil, nil, err
	}

	releaseID := idgen.New()
	release := catalog.ReleaseRow{
		ID: releaseID, AppID: app.ID, CreatedAt: nowRFC3339(),
		GitSHA: gitSHA, ImageRef: imageRef, ImageDigest: imageDigest,
		ConfigJSON: configJSON, Status: catalog.ReleaseStatusPending,
	}

	deploymentID := idgen.New()
	fromReleaseID, hasFrom, err := deps.Catalog.CurrentReleaseID(ctx, app.ID)
	if err != nil {
		return nil, nil, err
	}
	var fromPtr *string
	if hasFrom {
		fromPtr = &fromReleaseID
	}

	tx, err := deps.Catalog.BeginTx(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := catalog.InsertRelease(ctx, tx, release); err != nil {
		_ = tx.Rollback()
		return nil, nil, err
	}
	if err := catalog.InsertDeployment(ctx, tx, deploymentID, app.ID, fromPtr, &releaseID, catalog.DeploymentStatusPending, nil); err != nil {
		_ = tx.Rollback()
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	if opts.RecordOnly {
		tx2, err := deps.Catalog.BeginTx(ctx)
		if err != nil {
			return nil, nil, err
		}
		if err := catalog.SetCurrentRelease(ctx, tx2, app.ID, releaseID); err != nil {
			_ = tx2.Rollback()
			return nil, nil, err
		}
		if err := tx2.Commit(); err != nil {
			return nil, nil, err
		}
		if err := deps.Catalog.SetReleaseStatus(ctx, releaseID, catalog.ReleaseStatusActive); err != nil {
			return nil, nil, err
		}
		if err := deps.Catalog.UpdateDeploymentStatus(ctx, deploymentID, catalog.DeploymentStatusSucceeded, nil); err != nil {
			return nil, nil, err
		}
		if err := enforceRetention(ctx, deps.Catalog, app, snapshot); err != nil {
			logging.Warnf("retention failed: %v", err)
		}
		return &DeployResult{ReleaseID: releaseID, ImageRef: imageRef, GitSHA: gitSHA, RecordOnly: true}, nil, nil
	}

	fail := func(cause error) (*DeployResult, *DeployPlan, error) {
		_ = deps.Catalog.SetReleaseStatus(ctx, releaseID, catalog.ReleaseStatusFailed)
		errStr := cause.Error()
		_ = deps.Catalog.UpdateDeploymentStatus(ctx, deploymentID, catalog.DeploymentStatusFailed, &errStr)
		return nil, nil, cause
	}

	containerName := runtime.AppContainerName(app.Name, releaseID)
	if err := startAppQuadlet(ctx, rt, app.Name, releaseID, snapshot, imageRef); err != nil {
		return fail(err)
	}

	if err := rt.HealthcheckWithConfig(ctx, containerName, snapshot.Port, snapshot.Healthcheck); err != nil {
		_ = stopAppRelease(ctx, deps.Catalog, app.Name, releaseID)
		return fail(err)
	}

	if !opts.SkipProxy {
		if err := deps.Proxy.UpsertRoute(ctx, app.Name, releaseID, snapshot); err != nil {
			_ = stopAppRelease(ctx, deps.Catalog, app.Name, releaseID)
			deps.Catalog.InsertEvent(ctx, "proxy_error", fmt.Sprintf(`{"app":%q,"release_id":%q,"action":"deploy","error":%q}`, app.Name, releaseID, err.Error()))
			return fail(err)
		}
	}

	tx3, err := deps.Catalog.BeginTx(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := catalog.SetCurrentRelease(ctx, tx3, app.ID, releaseID); err != nil {
		_ = tx3.Rollback()
		return nil, nil, err
	}
	if err := tx3.Commit(); err != nil {
		return nil, nil, err
	}
	if err := deps.Catalog.SetReleaseStatus(ctx, releaseID, catalog.ReleaseStatusActive); err != nil {
		return nil, nil, err
	}
	if err := deps.Catalog.UpdateDeploymentStatus(ctx, deploymentID, catalog.DeploymentStatusSucceeded, nil); err != nil {
		return nil, nil, err
	}

	if hasFrom {
		_ = stopAppRelease(ctx, deps.Catalog, app.Name, fromReleaseID)
	}
	if err := enforceRetention(ctx, deps.Catalog, app, snapshot); err != nil {
		logging.Warnf("retention failed: %v", err)
	}

	return &DeployResult{ReleaseID: releaseID, ImageRef: imageRef, GitSHA: gitSHA}, nil, nil
}

// RollbackOptions mirrors the `rollback` CLI flags.
type RollbackOptions struct {
	AppName   string
	ReleaseID string
	DryRun    bool
}

// RollbackPlan is returned instead of acting, when DryRun is set.
type RollbackPlan struct {
	AppName     string
	ReleaseID   string
	Healthcheck config.HealthcheckConfig
}

// Rollback re-starts a previously recorded release's exact container and
// config snapshot, healthchecks it, routes the proxy, and promotes it.
func Rollback(ctx context.Context, deps Deps, app catalog.AppRow, opts RollbackOptions) (*DeployResult, *RollbackPlan, error) {
	release, ok, err := deps.Catalog.GetReleaseByID(ctx, opts.ReleaseID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errs.NotFound(domain, fmt.Sprintf("release not found: %s", opts.ReleaseID), nil)
	}
	if release.AppID != app.ID {
		return nil, nil, errs.Validation(domain, fmt.Sprintf("release %s does not belong to app %s", opts.ReleaseID, app.Name), nil)
	}

	snapshot, err := unmarshalSnapshot(release.ConfigJSON)
	if err != nil {
		return nil, nil, err
	}

	if opts.DryRun {
		return nil, &RollbackPlan{AppName: app.Name, ReleaseID: opts.ReleaseID, Healthcheck: snapshot.Healthcheck}, nil
	}

	deploymentID := idgen.New()
	fromReleaseID, hasFrom, err := deps.Catalog.CurrentReleaseID(ctx, app.ID)
	if err != nil {
		return nil, nil, err
	}
	var fromPtr *string
	if hasFrom {
		fromPtr = &fromReleaseID
	}
	tx, err := deps.Catalog.BeginTx(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := catalog.InsertDeployment(ctx, tx, deploymentID, app.ID, fromPtr, &opts.ReleaseID, catalog.DeploymentStatusPending, nil); err != nil {
		_ = tx.Rollback()
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	fail := func(cause error) (*DeployResult, *RollbackPlan, error) {
		errStr := cause.Error()
		_ = deps.Catalog.UpdateDeploymentStatus(ctx, deploymentID, catalog.DeploymentStatusFailed, &errStr)
		return nil, nil, cause
	}

	rt, err := runtime.Detect(ctx)
	if err != nil {
		return nil, nil, err
	}
	containerName := runtime.AppContainerName(app.Name, opts.ReleaseID)
	if err := startAppQuadlet(ctx, rt, app.Name, opts.ReleaseID, snapshot, release.ImageRef); err != nil {
		return fail(err)
	}
	if err := rt.HealthcheckWithConfig(ctx, containerName, snapshot.Port, snapshot.Healthcheck); err != nil {
		_ = stopAppRelease(ctx, deps.Catalog, app.Name, opts.ReleaseID)
		return fail(err)
	}
	if err := deps.Proxy.UpsertRoute(ctx, app.Name, opts.ReleaseID, snapshot); err != nil {
		_ = stopAppRelease(ctx, deps.Catalog, app.Name, opts.ReleaseID)
		deps.Catalog.InsertEvent(ctx, "proxy_error", fmt.Sprintf(`{"app":%q,"release_id":%q,"action":"rollback","error":%q}`, app.Name, opts.ReleaseID, err.Error()))
		return fail(err)
	}

	tx2, err := deps.Catalog.BeginTx(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := catalog.SetCurrentRelease(ctx, tx2, app.ID, opts.ReleaseID); err != nil {
		_ = tx2.Rollback()
		return nil, nil, err
	}
	if err := tx2.Commit(); err != nil {
		return nil, nil, err
	}
	if err := deps.Catalog.SetReleaseStatus(ctx, opts.ReleaseID, catalog.ReleaseStatusActive); err != nil {
		return nil, nil, err
	}
	if err := deps.Catalog.UpdateDeploymentStatus(ctx, deploymentID, catalog.DeploymentStatusSucceeded, nil); err != nil {
		return nil, nil, err
	}

	if hasFrom && fromReleaseID != opts.ReleaseID {
		_ = stopAppRelease(ctx, deps.Catalog, app.Name, fromReleaseID)
	}
	if err := enforceRetention(ctx, deps.Catalog, app, snapshot); err != nil {
		logging.Warnf("retention failed: %v", err)
	}

	return &DeployResult{ReleaseID: opts.ReleaseID, ImageRef: release.ImageRef, GitSHA: release.GitSHA}, nil, nil
}

func resolveHealthcheck(base config.HealthcheckConfig, opts DeployOptions) config.HealthcheckConfig {
	hc := base
	if opts.HealthTCP {
		hc.Kind = config.HealthTCP
	}
	if opts.HealthPath != "" {
		hc.Path = opts.HealthPath
	}
	if opts.HealthRetries != nil {
		hc.Retries = *opts.HealthRetries
	}
	if opts.HealthTimeoutMs != nil {
		hc.TimeoutMs = *opts.HealthTimeoutMs
	}
	if opts.HealthIntervalMs != nil {
		hc.IntervalMs = *opts.HealthIntervalMs
	}
	return hc
}

// resolveImageRef picks, in priority order: an explicit --image value, the
// app's [deploy].image, or a tag computed from [deploy].image_prefix and
// [deploy].tag_strategy ("git_sha" or "latest").
func resolveImageRef(input string, snapshot config.ConfigSnapshot, gitSHA string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	if snapshot.Deploy.Image != nil && *snapshot.Deploy.Image != "" {
		return *snapshot.Deploy.Image, nil
	}
	if snapshot.Deploy.ImagePrefix != nil && *snapshot.Deploy.ImagePrefix != "" {
		strategy := "git_sha"
		if snapshot.Deploy.TagStrategy != nil && *snapshot.Deploy.TagStrategy != "" {
			strategy = *snapshot.Deploy.TagStrategy
		}
		var tag string
		switch strategy {
		case "git_sha":
			tag = gitSHA
		case "latest":
			tag = "latest"
		default:
			return "", errs.Validation(domain, fmt.Sprintf("unknown tag_strategy %s", strategy), nil)
		}
		return fmt.Sprintf("%s:%s", *snapshot.Deploy.ImagePrefix, tag), nil
	}
	return "", errs.Validation(domain, "image ref required (pass --image or set [deploy].image or [deploy].image_prefix)", nil)
}

// resolveGitSHABase resolves gitRef (or HEAD) against repoPath, returning
// "unknown" when the repo or ref can't be resolved.
func resolveGitSHABase(ctx context.Context, gitRef *string, repoPath string) string {
	ref := ""
	if gitRef != nil {
		ref = *gitRef
	}
	return gitrepo.ResolveSHA(ctx, repoPath, ref)
}

// resolveGitSHA picks, in priority order: an explicit --git-sha value, the
// resolved repo base SHA (when known), or a tag/digest extracted from the
// image ref, falling back to "unknown".
func resolveGitSHA(input, base, imageRef string) string {
	if strings.TrimSpace(input) != "" {
		return input
	}
	if base != "" && base != "unknown" {
		return base
	}
	if tag, ok := extractImageTag(imageRef); ok {
		return tag
	}
	return "unknown"
}

// extractImageTag pulls the digest (after '@') or tag (after the last ':'
// following the final '/') out of an image reference.
func extractImageTag(imageRef string) (string, bool) {
	if _, digest, ok := strings.Cut(imageRef, "@"); ok {
		return digest, true
	}
	lastSlash := strings.LastIndex(imageRef, "/")
	if lastSlash < 0 {
		lastSlash = 0
	}
	tail := imageRef[lastSlash:]
	if idx := strings.LastIndex(tail, ":"); idx >= 0 {
		tag := tail[idx+1:]
		if tag != "" {
			return tag, true
		}
	}
	return "", false
}

func startAppQuadlet(ctx context.Context, rt *runtime.Runtime, appName, releaseID string, snapshot config.ConfigSnapshot, imageRef string) error {
	if err := rt.EnsureNetwork(ctx); err != nil {
		return err
	}
	quadletDir := unit.DefaultQuadletDir()
	if snapshot.Deploy.QuadletDir != nil && *snapshot.Deploy.QuadletDir != "" {
		quadletDir = *snapshot.Deploy.QuadletDir
	}
	unitName := runtime.AppContainerName(appName, releaseID)
	if err := unit.WriteAppQuadlet(quadletDir, unitName, imageRef, snapshot, appName, releaseID); err != nil {
		return err
	}
	if err := unit.SystemctlForDir(ctx, quadletDir, "daemon-reload"); err != nil {
		return err
	}
	return unit.SystemctlForDir(ctx, quadletDir, "enable", "--now", unitName+".service")
}

func stopAppRelease(ctx context.Context, cat *catalog.Catalog, appName, releaseID string) error {
	release, ok, err := cat.GetReleaseByID(ctx, releaseID)
	if err != nil || !ok {
		return err
	}
	snapshot, err := unmarshalSnapshot(release.ConfigJSON)
	if err != nil {
		snapshot = config.ConfigSnapshot{}
	}
	quadletDir := unit.DefaultQuadletDir()
	if snapshot.Deploy.QuadletDir != nil && *snapshot.Deploy.QuadletDir != "" {
		quadletDir = *snapshot.Deploy.QuadletDir
	}
	unitName := runtime.AppContainerName(appName, releaseID)
	_ = unit.SystemctlForDir(ctx, quadletDir, "stop", unitName+".service")
	return nil
}

// enforceRetention keeps max(1, retain) releases for app — always including
// current — and prunes the rest.
func enforceRetention(ctx context.Context, cat *catalog.Catalog, app catalog.AppRow, snapshot config.ConfigSnapshot) error {
	retain := int(snapshot.Deploy.Retain)
	if retain < 1 {
		retain = 1
	}
	releases, err := cat.ListReleases(ctx, app.ID)
	if err != nil {
		return err
	}
	if len(releases) <= retain {
		return nil
	}
	currentID, hasCurrent, err := cat.CurrentReleaseID(ctx, app.ID)
	if err != nil {
		return err
	}
	keep := map[string]bool{}
	if hasCurrent {
		keep[currentID] = true
	}
	for _, r := range releases {
		if len(keep) >= retain {
			break
		}
		keep[r.ID] = true
	}
	for _, r := range releases {
		if keep[r.ID] {
			continue
		}
		if err := pruneRelease(ctx, cat, app, r); err != nil {
			return err
		}
	}
	return nil
}

func pruneRelease(ctx context.Context, cat *catalog.Catalog, app catalog.AppRow, release catalog.ReleaseRow) error {
	snapshot, err := unmarshalSnapshot(release.ConfigJSON)
	if err != nil {
		snapshot = config.ConfigSnapshot{}
	}
	quadletDir := unit.DefaultQuadletDir()
	if snapshot.Deploy.QuadletDir != nil && *snapshot.Deploy.QuadletDir != "" {
		quadletDir = *snapshot.Deploy.QuadletDir
	}
	unitName := runtime.AppContainerName(app.Name, release.ID)
	svc := unitName + ".service"
	_ = unit.SystemctlForDir(ctx, quadletDir, "stop", svc)
	_ = unit.SystemctlForDir(ctx, quadletDir, "disable", svc)
	_ = removeQuadletFile(quadletDir, unitName)
	_ = unit.SystemctlForDir(ctx, quadletDir, "daemon-reload")

	if err := cat.DeleteDeploymentsForRelease(ctx, release.ID); err != nil {
		return err
	}
	return cat.DeleteRelease(ctx, release.ID)
}

func marshalSnapshot(s config.ConfigSnapshot) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", errs.IO(domain, "failed to marshal release config", err)
	}
	return string(raw), nil
}

func unmarshalSnapshot(raw string) (config.ConfigSnapshot, error) {
	var s config.ConfigSnapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return config.ConfigSnapshot{}, errs.Corrupt(domain, "invalid release config", err)
	}
	return s, nil
}

func removeQuadletFile(quadletDir, unitName string) error {
	return os.Remove(filepath.Join(quadletDir, unitName+".container"))
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

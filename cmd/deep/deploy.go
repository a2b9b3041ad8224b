package main

import (
	"fmt"

	"github.com/deepctl/deep/internal/config"
	"github.com/deepctl/deep/internal/orchestrator"
	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:     "deploy <app>",
	Aliases: []string{"d"},
	Args:    cobra.ExactArgs(1),
	Short:   "Deploy a new release",
	RunE: func(cmd *cobra.Command, args []string) error {
		appName := args[0]
		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()
		proxyClient, err := openProxy(cmd)
		if err != nil {
			return err
		}

		app, err := requireApp(cmd, cat, appName)
		if err != nil {
			return err
		}

		opts, err := deployOptionsFromFlags(cmd, appName)
		if err != nil {
			return err
		}

		configPath, _ := cmd.Flags().GetString("config")
		resolved, err := config.ResolvePath(configPath, appName, app.RepoPath)
		if err != nil {
			return err
		}
		appConfig, err := config.LoadAppConfig(resolved)
		if err != nil {
			return err
		}

		deps := orchestrator.Deps{Catalog: cat, Proxy: proxyClient}
		result, plan, err := orchestrator.Deploy(cmd.Context(), deps, app, appConfig, opts)
		if err != nil {
			return err
		}
		if plan != nil {
			printDeployPlan(plan)
			return nil
		}
		fmt.Printf("deployed release %s for %s (image=%s git_sha=%s)\n", result.ReleaseID, appName, result.ImageRef, result.GitSHA)
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:     "rollback <app> <release-id>",
	Aliases: []string{"rb"},
	Args:    cobra.ExactArgs(2),
	Short:   "Roll back to a previous release",
	RunE: func(cmd *cobra.Command, args []string) error {
		appName, releaseID := args[0], args[1]
		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()
		proxyClient, err := openProxy(cmd)
		if err != nil {
			return err
		}
		app, err := requireApp(cmd, cat, appName)
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		deps := orchestrator.Deps{Catalog: cat, Proxy: proxyClient}
		result, plan, err := orchestrator.Rollback(cmd.Context(), deps, app, orchestrator.RollbackOptions{
			AppName: appName, ReleaseID: releaseID, DryRun: dryRun,
		})
		if err != nil {
			return err
		}
		if plan != nil {
			fmt.Printf("dry-run: rollback %s to %s\n", plan.AppName, plan.ReleaseID)
			fmt.Printf("healthcheck: kind=%s path=%s retries=%d\n", plan.Healthcheck.Kind, plan.Healthcheck.Path, plan.Healthcheck.Retries)
			return nil
		}
		fmt.Printf("rolled back %s to release %s (image=%s git_sha=%s)\n", appName, result.ReleaseID, result.ImageRef, result.GitSHA)
		return nil
	},
}

func init() {
	dbFlag(deployCmd)
	proxyFlags(deployCmd)
	deployCmd.Flags().StringP("image", "i", "", "Image reference to deploy")
	deployCmd.Flags().StringP("git-sha", "g", "", "Git SHA to record for the release")
	deployCmd.Flags().StringP("image-digest", "", "", "Image digest to record (skip resolve)")
	deployCmd.Flags().StringP("health-path", "p", "", "HTTP healthcheck path override")
	deployCmd.Flags().BoolP("health-tcp", "T", false, "Use TCP healthcheck instead of HTTP")
	deployCmd.Flags().Uint32P("health-retries", "r", 0, "Healthcheck retry count override")
	deployCmd.Flags().Uint64P("health-timeout-ms", "t", 0, "Healthcheck timeout override (ms)")
	deployCmd.Flags().Uint64P("health-interval-ms", "I", 0, "Healthcheck interval override (ms)")
	deployCmd.Flags().BoolP("skip-proxy", "S", false, "Skip proxy update")
	deployCmd.Flags().BoolP("skip-pull", "P", false, "Skip image pull/digest resolve")
	deployCmd.Flags().StringP("config", "c", "", "Path to app.toml")
	deployCmd.Flags().BoolP("record-only", "R", false, "Record release without starting containers")
	deployCmd.Flags().BoolP("dry-run", "D", false, "Print actions without executing")

	dbFlag(rollbackCmd)
	proxyFlags(rollbackCmd)
	rollbackCmd.Flags().BoolP("dry-run", "D", false, "Print actions without executing")
}

func deployOptionsFromFlags(cmd *cobra.Command, appName string) (orchestrator.DeployOptions, error) {
	image, _ := cmd.Flags().GetString("image")
	gitSHA, _ := cmd.Flags().GetString("git-sha")
	imageDigest, _ := cmd.Flags().GetString("image-digest")
	healthPath, _ := cmd.Flags().GetString("health-path")
	healthTCP, _ := cmd.Flags().GetBool("health-tcp")
	skipProxy, _ := cmd.Flags().GetBool("skip-proxy")
	skipPull, _ := cmd.Flags().GetBool("skip-pull")
	recordOnly, _ := cmd.Flags().GetBool("record-only")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	configPath, _ := cmd.Flags().GetString("config")

	opts := orchestrator.DeployOptions{
		AppName: appName, Image: image, GitSHA: gitSHA, ImageDigest: imageDigest,
		HealthPath: healthPath, HealthTCP: healthTCP,
		SkipProxy: skipProxy, SkipPull: skipPull, ConfigPath: configPath,
		RecordOnly: recordOnly, DryRun: dryRun,
	}
	if cmd.Flags().Changed("health-retries") {
		v, _ := cmd.Flags().GetUint32("health-retries")
		opts.HealthRetries = &v
	}
	if cmd.Flags().Changed("health-timeout-ms") {
		v, _ := cmd.Flags().GetUint64("health-timeout-ms")
		opts.HealthTimeoutMs = &v
	}
	if cmd.Flags().Changed("health-interval-ms") {
		v, _ := cmd.Flags().GetUint64("health-interval-ms")
		opts.HealthIntervalMs = &v
	}
	return opts, nil
}

func printDeployPlan(plan *orchestrator.DeployPlan) {
	fmt.Printf("dry-run: deploy %s\n", plan.AppName)
	fmt.Printf("image_ref=%s\n", plan.ImageRef)
	fmt.Printf("git_sha=%s\n", plan.GitSHA)
	fmt.Printf("healthcheck: kind=%s path=%s retries=%d timeout_ms=%d interval_ms=%d\n",
		plan.Healthcheck.Kind, plan.Healthcheck.Path, plan.Healthcheck.Retries, plan.Healthcheck.TimeoutMs, plan.Healthcheck.IntervalMs)
	if plan.RecordOnly {
		fmt.Println("record_only=true (no container will be started)")
	}
	if plan.SkipPull {
		fmt.Println("skip_pull=true")
	}
	if plan.HasDigest {
		fmt.Println("image_digest explicitly provided")
	}
	if plan.SkipProxy {
		fmt.Println("skip_proxy=true")
	}
}

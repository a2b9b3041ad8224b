package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepctl/deep/internal/catalog"
	"github.com/deepctl/deep/internal/errs"
	"github.com/deepctl/deep/internal/gitrepo"
	"github.com/deepctl/deep/internal/runtime"
	"github.com/deepctl/deep/internal/unit"
	"github.com/spf13/cobra"
)

//go:embed templates/app.toml
var appTomlTemplates embed.FS

var appsCmd = &cobra.Command{
	Use:     "apps",
	Aliases: []string{"a"},
	Short:   "Manage apps",
}

var appsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List apps",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()
		apps, err := cat.ListApps(cmd.Context())
		if err != nil {
			return err
		}
		if len(apps) == 0 {
			fmt.Println("no apps found")
			return nil
		}
		for _, a := range apps {
			fmt.Printf("%s  %s\n", a.Name, a.ID)
		}
		return nil
	},
}

var appsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Args:  cobra.ExactArgs(1),
	Short: "Add an app and generate app.toml",
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		repoPath, _ := cmd.Flags().GetString("repo-path")
		configDir, _ := cmd.Flags().GetString("config-dir")
		withGit, _ := cmd.Flags().GetBool("git")
		imageTemplate, _ := cmd.Flags().GetString("image-template")
		dockerfile, _ := cmd.Flags().GetString("dockerfile")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if repoPath == "" {
			repoPath = filepath.Join("/srv/deep/repos", name+".git")
		}
		appDir := filepath.Join(configDir, name)
		appToml := filepath.Join(appDir, "app.toml")

		if dryRun {
			printAddPlan(name, repoPath, appToml, withGit, imageTemplate, dockerfile)
			return nil
		}

		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()

		app, err := cat.CreateApp(cmd.Context(), name, repoPath)
		if err != nil {
			return err
		}
		if _, err := os.Stat(appToml); err != nil {
			if err := os.MkdirAll(appDir, 0o755); err != nil {
				return errs.IO("cli", fmt.Sprintf("failed to create %s", appDir), err)
			}
			if err := os.WriteFile(appToml, defaultAppToml(name), 0o644); err != nil {
				return errs.IO("cli", fmt.Sprintf("failed to write %s", appToml), err)
			}
		}
		if withGit {
			if err := gitrepo.InitBareRepo(cmd.Context(), repoPath); err != nil {
				return err
			}
			if imageTemplate == "" {
				imageTemplate = loadImageTemplateFromConfig(name, repoPath)
			}
			if err := gitrepo.WritePostReceiveHook(repoPath, name, imageTemplate, dockerfile, "deep"); err != nil {
				return err
			}
			fmt.Printf("initialized git repo %s\n", repoPath)
		}
		fmt.Printf("created app %s (%s)\n", app.Name, app.ID)
		fmt.Printf("app config: %s\n", appToml)
		return nil
	},
}

var appsRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	Short:   "Remove an app record",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()
		if err := cat.RemoveApp(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("removed app %s\n", args[0])
		return nil
	},
}

func appActionCmd(use, alias, action string) *cobra.Command {
	return &cobra.Command{
		Use:     use + " <name>",
		Aliases: []string{alias},
		Args:    cobra.ExactArgs(1),
		Short:   action + " the current release",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()
			return appAction(cmd, cat, args[0], action)
		},
	}
}

var appsStartCmd = appActionCmd("start", "st", "start")
var appsStopCmd = appActionCmd("stop", "sp", "stop")
var appsRestartCmd = appActionCmd("restart", "rs", "restart")

func init() {
	dbFlag(appsListCmd)
	dbFlag(appsAddCmd)
	dbFlag(appsRemoveCmd)
	dbFlag(appsStartCmd)
	dbFlag(appsStopCmd)
	dbFlag(appsRestartCmd)

	appsAddCmd.Flags().StringP("repo-path", "r", "", "Path to bare git repo (for git push deploy)")
	appsAddCmd.Flags().StringP("config-dir", "c", "/srv/deep/apps", "Directory for generated app.toml")
	appsAddCmd.Flags().BoolP("git", "g", false, "Initialize bare repo and hook")
	appsAddCmd.Flags().StringP("image-template", "t", "", "Image template for git hook")
	appsAddCmd.Flags().StringP("dockerfile", "f", "Dockerfile", "Dockerfile path")
	appsAddCmd.Flags().BoolP("dry-run", "D", false, "Print actions without executing")

	appsCmd.AddCommand(appsListCmd, appsAddCmd, appsRemoveCmd, appsStartCmd, appsStopCmd, appsRestartCmd)
}

func appAction(cmd *cobra.Command, cat *catalog.Catalog, name, action string) error {
	app, err := requireApp(cmd, cat, name)
	if err != nil {
		return err
	}
	releaseID, ok, err := cat.CurrentReleaseID(cmd.Context(), app.ID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound("cli", "no current release set", nil)
	}
	release, ok, err := cat.GetReleaseByID(cmd.Context(), releaseID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound("cli", "current release not found", nil)
	}
	snapshot, err := unmarshalSnapshotForCLI(release.ConfigJSON)
	if err != nil {
		return err
	}
	quadletDir := unit.DefaultQuadletDir()
	if snapshot.Deploy.QuadletDir != nil && *snapshot.Deploy.QuadletDir != "" {
		quadletDir = *snapshot.Deploy.QuadletDir
	}
	unitName := runtime.AppContainerName(app.Name, releaseID)
	svc := unitName + ".service"
	switch action {
	case "start", "stop", "restart":
		if err := unit.SystemctlForDir(cmd.Context(), quadletDir, action, svc); err != nil {
			return err
		}
	default:
		return errs.Validation("cli", "unknown app action "+action, nil)
	}
	fmt.Printf("%s app %s\n", action, app.Name)
	return nil
}

func defaultAppToml(name string) []byte {
	raw, err := appTomlTemplates.ReadFile("templates/app.toml")
	if err != nil {
		return []byte(fmt.Sprintf("[app]\nname = %q\nport = 8080\ndomains = []\n", name))
	}
	return []byte(strings.ReplaceAll(string(raw), "{{app}}", name))
}

func printAddPlan(name, repoPath, appToml string, withGit bool, imageTemplate, dockerfile string) {
	fmt.Printf("dry-run: apps add %s\n", name)
	fmt.Printf("would create app record with repo_path=%s\n", repoPath)
	fmt.Printf("would write app config: %s\n", appToml)
	if withGit {
		hookPath := filepath.Join(repoPath, "hooks", "post-receive")
		fmt.Printf("would init bare repo: %s\n", repoPath)
		fmt.Printf("would write hook: %s\n", hookPath)
		fmt.Printf("dockerfile=%s\n", dockerfile)
		if imageTemplate != "" {
			fmt.Printf("image_template=%s\n", imageTemplate)
		} else {
			fmt.Println("image_template=from app.toml or default")
		}
	}
}

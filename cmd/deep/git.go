package main

import (
	"fmt"

	"github.com/deepctl/deep/internal/config"
	"github.com/deepctl/deep/internal/gitrepo"
	"github.com/spf13/cobra"
)

var gitCmd = &cobra.Command{
	Use:     "git",
	Aliases: []string{"g"},
	Short:   "Maintain git-push-to-deploy hooks",
}

var gitUpdateHookCmd = &cobra.Command{
	Use:     "update-hook <app>",
	Aliases: []string{"u"},
	Args:    cobra.ExactArgs(1),
	Short:   "(Re)write an app's bare repo post-receive hook",
	RunE: func(cmd *cobra.Command, args []string) error {
		appName := args[0]
		reposDir, _ := cmd.Flags().GetString("repos-dir")
		repoPath, _ := cmd.Flags().GetString("repo-path")
		imageTemplate, _ := cmd.Flags().GetString("image-template")
		dockerfile, _ := cmd.Flags().GetString("dockerfile")
		deepBin, _ := cmd.Flags().GetString("deep-bin")

		if repoPath == "" {
			repoPath = gitrepo.DefaultRepoPath(reposDir, appName)
		}
		if imageTemplate == "" {
			imageTemplate = loadImageTemplateFromConfig(appName, repoPath)
		}
		if err := gitrepo.WritePostReceiveHook(repoPath, appName, imageTemplate, dockerfile, deepBin); err != nil {
			return err
		}
		fmt.Printf("updated post-receive hook for %s at %s\n", appName, repoPath)
		return nil
	},
}

func init() {
	gitUpdateHookCmd.Flags().StringP("repos-dir", "R", "/srv/deep/repos", "Directory containing bare repos")
	gitUpdateHookCmd.Flags().StringP("repo-path", "r", "", "Explicit bare repo path (overrides repos-dir)")
	gitUpdateHookCmd.Flags().StringP("image-template", "t", "", "Image template for the hook (falls back to app.toml, then default)")
	gitUpdateHookCmd.Flags().StringP("dockerfile", "f", "Dockerfile", "Dockerfile path")
	gitUpdateHookCmd.Flags().StringP("deep-bin", "b", "deep", "Path to the deep binary invoked by the hook")
	gitCmd.AddCommand(gitUpdateHookCmd)
}

// loadImageTemplateFromConfig checks the app's app.toml for a deploy.image_template
// before falling back to the hook's own built-in default.
func loadImageTemplateFromConfig(appName, repoPath string) string {
	path, err := config.ResolvePath("", appName, repoPath)
	if err != nil {
		return ""
	}
	appConfig, err := config.LoadAppConfig(path)
	if err != nil {
		return ""
	}
	if appConfig.Deploy.ImageTemplate != nil {
		return *appConfig.Deploy.ImageTemplate
	}
	return ""
}

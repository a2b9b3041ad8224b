package main

import (
	"github.com/deepctl/deep/internal/errs"
	"github.com/deepctl/deep/internal/runtime"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:     "logs <app>",
	Aliases: []string{"l"},
	Args:    cobra.ExactArgs(1),
	Short:   "Stream a running app's container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		appName := args[0]
		follow, _ := cmd.Flags().GetBool("follow")

		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()
		app, err := requireApp(cmd, cat, appName)
		if err != nil {
			return err
		}
		releaseID, ok, err := cat.CurrentReleaseID(cmd.Context(), app.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errs.NotFound("cli", "no current release set for "+appName, nil)
		}

		rt, err := runtime.Detect(cmd.Context())
		if err != nil {
			return err
		}
		containerName := runtime.AppContainerName(appName, releaseID)
		return rt.Logs(cmd.Context(), containerName, follow)
	},
}

func init() {
	dbFlag(logsCmd)
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
}

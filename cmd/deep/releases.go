package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var releasesCmd = &cobra.Command{
	Use:     "releases",
	Aliases: []string{"r"},
	Short:   "Inspect release history",
}

var releasesListCmd = &cobra.Command{
	Use:     "list <app>",
	Aliases: []string{"ls"},
	Args:    cobra.ExactArgs(1),
	Short:   "List releases for an app",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()
		app, err := requireApp(cmd, cat, args[0])
		if err != nil {
			return err
		}
		releases, err := cat.ListReleases(cmd.Context(), app.ID)
		if err != nil {
			return err
		}
		if len(releases) == 0 {
			fmt.Println("no releases found")
			return nil
		}
		for _, r := range releases {
			fmt.Printf("%s  %s  %s  %s\n", r.ID, r.Status, r.GitSHA, r.ImageRef)
		}
		return nil
	},
}

var releasesCurrentCmd = &cobra.Command{
	Use:     "current <app>",
	Aliases: []string{"cur"},
	Args:    cobra.ExactArgs(1),
	Short:   "Show the current release for an app",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()
		app, err := requireApp(cmd, cat, args[0])
		if err != nil {
			return err
		}
		releaseID, ok, err := cat.CurrentReleaseID(cmd.Context(), app.ID)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("no current release set")
			return nil
		}
		release, ok, err := cat.GetReleaseByID(cmd.Context(), releaseID)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("current release record missing")
			return nil
		}
		fmt.Printf("%s  %s  %s  %s\n", release.ID, release.Status, release.GitSHA, release.ImageRef)
		return nil
	},
}

func init() {
	dbFlag(releasesListCmd)
	dbFlag(releasesCurrentCmd)
	releasesCmd.AddCommand(releasesListCmd, releasesCurrentCmd)
}

package main

import (
	"fmt"
	"strings"

	"github.com/deepctl/deep/internal/imageutil"
	"github.com/spf13/cobra"
)

var imageCmd = &cobra.Command{
	Use:     "image",
	Aliases: []string{"i"},
	Short:   "Build and publish images from a laptop/CI workstation",
}

var imagePublishCmd = &cobra.Command{
	Use:     "publish",
	Aliases: []string{"p"},
	Short:   "Build, tag, and push an image",
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePrefix, _ := cmd.Flags().GetString("image-prefix")
		tagsRaw, _ := cmd.Flags().GetString("tags")
		gitRef, _ := cmd.Flags().GetString("git-ref")
		dockerfile, _ := cmd.Flags().GetString("dockerfile")
		buildContext, _ := cmd.Flags().GetString("context")
		noPush, _ := cmd.Flags().GetBool("no-push")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		var tags []string
		if tagsRaw != "" {
			for _, t := range strings.Split(tagsRaw, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tags = append(tags, t)
				}
			}
		}

		plan, err := imageutil.Publish(cmd.Context(), imageutil.PublishOptions{
			ImagePrefix: imagePrefix, Tags: tags, GitRef: gitRef,
			Dockerfile: dockerfile, Context: buildContext, NoPush: noPush, DryRun: dryRun,
		})
		if err != nil {
			return err
		}
		if dryRun {
			fmt.Println("dry-run: image publish")
			fmt.Printf("context=%s dockerfile=%s\n", plan.Context, plan.Dockerfile)
			fmt.Printf("image_prefix=%s tags=%s\n", plan.ImagePrefix, strings.Join(plan.Tags, ","))
			if plan.SkipPush {
				fmt.Println("would skip push")
			} else {
				fmt.Printf("would push: %s\n", strings.Join(plan.WouldPush, ","))
			}
			return nil
		}
		fmt.Printf("published %s (tags=%s)\n", plan.ImagePrefix, strings.Join(plan.Tags, ","))
		return nil
	},
}

func init() {
	imagePublishCmd.Flags().StringP("image-prefix", "p", "", "Image prefix to build/tag/push (required)")
	imagePublishCmd.Flags().StringP("tags", "t", "", "Comma-separated tags (defaults to git SHA + latest)")
	imagePublishCmd.Flags().StringP("git-ref", "g", "HEAD", "Git ref to resolve when tags are unset")
	imagePublishCmd.Flags().StringP("dockerfile", "f", "Dockerfile", "Dockerfile path")
	imagePublishCmd.Flags().StringP("context", "C", ".", "Build context directory")
	imagePublishCmd.Flags().BoolP("no-push", "P", false, "Skip pushing after build")
	imagePublishCmd.Flags().BoolP("dry-run", "D", false, "Print actions without executing")
	imageCmd.AddCommand(imagePublishCmd)
}

// Package imageutil implements the laptop-side image build/publish
// workflow: build one image, tag it for every requested tag, and push — all
// shelled out to podman through the Command Runner.
package imageutil

import (
	"context"
	"fmt"

	"github.com/deepctl/deep/internal/errs"
	"github.com/deepctl/deep/internal/gitrepo"
	"github.com/deepctl/deep/internal/runner"
)

const domain = "imageutil"

// PublishOptions configures one Publish call.
type PublishOptions struct {
	ImagePrefix string
	Tags        []string
	GitRef      string
	Dockerfile  string
	Context     string
	NoPush      bool
	DryRun      bool
}

// PublishPlan is the resolved set of actions Publish would take, returned
// whenever DryRun is set instead of running anything.
type PublishPlan struct {
	Context     string
	Dockerfile  string
	ImagePrefix string
	Tags        []string
	WouldPush   []string
	SkipPush    bool
}

// Publish builds image_prefix:tags[0], tags it for every remaining tag, and
// pushes all tags unless NoPush/DryRun is set. When Tags is empty it
// defaults to {resolved git SHA of GitRef, "latest"}, mirroring the
// original's fallback to "unknown" when no git metadata is resolvable.
func Publish(ctx context.Context, opts PublishOptions) (*PublishPlan, error) {
	if opts.ImagePrefix == "" {
		return nil, errs.Validation(domain, "image_prefix is required", nil)
	}
	dockerfile := opts.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	buildContext := opts.Context
	if buildContext == "" {
		buildContext = "."
	}
	gitRef := opts.GitRef
	if gitRef == "" {
		gitRef = "HEAD"
	}

	tags := opts.Tags
	if len(tags) == 0 {
		sha := gitrepo.ResolveSHA(ctx, buildContext, gitRef)
		tags = []string{sha, "latest"}
	}

	primary := tags[0]
	primaryRef := fmt.Sprintf("%s:%s", opts.ImagePrefix, primary)
	allRefs := make([]string, 0, len(tags))
	for _, tag := range tags {
		allRefs = append(allRefs, fmt.Sprintf("%s:%s", opts.ImagePrefix, tag))
	}

	plan := &PublishPlan{
		Context:     buildContext,
		Dockerfile:  dockerfile,
		ImagePrefix: opts.ImagePrefix,
		Tags:        tags,
		SkipPush:    opts.NoPush,
		WouldPush:   allRefs,
	}
	if opts.DryRun {
		return plan, nil
	}

	if err := runPodman(ctx, "build", "-t", primaryRef, "-f", dockerfile, buildContext); err != nil {
		return nil, err
	}
	for _, extra := range allRefs[1:] {
		if err := runPodman(ctx, "tag", primaryRef, extra); err != nil {
			return nil, err
		}
	}
	if !opts.NoPush {
		for _, image := range allRefs {
			if err := runPodman(ctx, "push", image); err != nil {
				return nil, err
			}
		}
	}
	return plan, nil
}

func runPodman(ctx context.Context, args ...string) error {
	res, err := runner.Run(ctx, "podman", args...)
	if err != nil {
		return errs.External(domain, fmt.Sprintf("failed to run podman %v", args), err)
	}
	if !res.Success() {
		return errs.External(domain, fmt.Sprintf("podman %v failed: %s", args, res.Stderr), nil)
	}
	return nil
}

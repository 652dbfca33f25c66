package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/fetch"
	"github.com/kilnhq/kiln/internal/manifest"
	"github.com/kilnhq/kiln/internal/paths"
	"github.com/kilnhq/kiln/internal/registry"
	"github.com/kilnhq/kiln/internal/runtime"
)

// Holds shared state for building all stages of a recipe.
type pipeline struct {
	rt         *runtime.Runtime     // Container runtime for image and container operations.
	recipe     *manifest.Recipe     // Recipe under execution.
	resource   string               // Resource name, used as a prefix for container IDs.
	session    string               // Per-run suffix isolating container IDs from concurrent builds.
	output     string               // Output directory for the final build artifact.
	root       string               // Directory containing the manifest, root for resolving copy sources.
	noCache    bool                 // Execute every step even when a checkpoint exists.
	store      *Store               // Layer checkpoint store.
	baseDir    string               // Cache directory for pulled base images.
	model      fetch.Model          // Model artifact referenced by fetch steps.
	modelPath  string               // Host path of the verified model artifact.
	toolPath   string               // Host path of the orchestrator binary.
	toolDigest digest.Digest        // Content digest of the orchestrator binary.
	platforms  []string             // Target platforms to build for.
	containers []*runtime.Container // All stage containers across all platforms, destroyed after the build completes.
}

// Builds the recipe end-to-end against the container runtime.
//
// Each target platform is built independently. Stages are built in
// declaration order for each platform. The non-transient stage is exported
// as the final image to the platform's output directory. All stage
// containers are destroyed when the build completes.
func (p *pipeline) build(ctx context.Context) (*Result, error) {
	defer p.destroyContainers(ctx)

	for _, platform := range p.platforms {
		if err := p.buildPlatform(ctx, platform); err != nil {
			return nil, err
		}
	}

	return &Result{Output: p.output}, nil
}

// Builds all stages of the recipe for a single platform.
//
// Each platform maintains its own set of named stage containers for
// cross-stage copy lookups, and its own chain of stage keys feeding
// cross-stage copy cache keys. The output is written to a
// platform-specific subdirectory when building for multiple platforms.
func (p *pipeline) buildPlatform(ctx context.Context, platform string) error {
	slog.Info("building platform", "platform", platform)

	output := p.platformOutput(platform)
	if err := os.MkdirAll(output, paths.DefaultDirMode); err != nil {
		return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	stages := make(map[string]*runtime.Container)
	stageKeys := make(map[string]digest.Digest)

	for _, stage := range p.recipe.Stages {
		if err := p.buildStage(ctx, stage, platform, output, stages, stageKeys); err != nil {
			return fmt.Errorf("%w: platform %s, stage %q: %w", ErrBuild, platform, stage.Name, err)
		}
	}

	return nil
}

// Builds a single stage of a recipe for a specific platform.
//
// The stage's plan is compared against the checkpoint store: the container
// starts from the longest stored prefix (or the resolved base image when
// nothing matches) and only the remaining operations execute, each
// committing a new checkpoint. The non-transient stage is exported to the
// output directory with the boot entrypoint and service configuration.
func (p *pipeline) buildStage(ctx context.Context, stage manifest.Stage, platform, output string, stages map[string]*runtime.Container, stageKeys map[string]digest.Digest) error {
	slog.Info(fmt.Sprintf("building stage %q", stage.Name), "platform", platform)

	base, err := registry.Resolve(ctx, stage.From, platform, p.baseDir)
	if err != nil {
		return err
	}

	plan, finalState, err := planStage(stage, platform, base.Digest, planContext{
		root:      p.root,
		user:      p.recipe.User,
		model:     p.model,
		tool:      p.toolDigest,
		stageKeys: stageKeys,
	})
	if err != nil {
		return err
	}

	// Resume from the deepest checkpoint that matches the plan.
	resume := -1
	if !p.noCache {
		for i := len(plan) - 1; i >= 0; i-- {
			if p.store.Has(plan[i].key) {
				resume = i
				break
			}
		}
	}

	source := base.Path
	if resume >= 0 {
		source = p.store.ArchivePath(plan[resume].key)
		slog.Info("resuming from checkpoint",
			"stage", stage.Name,
			"cached", fmt.Sprintf("%d/%d", resume+1, len(plan)),
		)
	}

	ctr, err := p.rt.StartContainer(ctx, source, p.containerID(stage.Name, platform), platform)
	if err != nil {
		return fmt.Errorf("%w: %w", runtime.ErrRuntime, err)
	}

	p.containers = append(p.containers, ctr)
	stages[stage.Name] = ctr

	exec := &executor{
		ctr:       ctr,
		stages:    stages,
		root:      p.root,
		user:      p.recipe.User,
		model:     p.model,
		modelPath: p.modelPath,
		toolPath:  p.toolPath,
	}

	for i := resume + 1; i < len(plan); i++ {
		op := plan[i]
		slog.Info("executing step",
			"stage", stage.Name,
			"step", fmt.Sprintf("%d/%d", i+1, len(plan)),
			"op", op.desc,
		)

		if err := exec.execute(ctx, op); err != nil {
			return err
		}

		meta := checkpointMeta{Resource: p.resource, Stage: stage.Name, Step: op.desc}
		if i > 0 {
			meta.Parent = plan[i-1].key
		}
		err := p.store.Commit(op.key, meta, func(dir string) error {
			_, err := ctr.Export(ctx, dir, runtime.ImageConfig{})
			return err
		})
		if err != nil {
			return err
		}
	}

	stageKeys[stage.Name] = plan[len(plan)-1].key

	if !stage.Transient {
		if err := ctr.Stop(ctx); err != nil {
			return fmt.Errorf("%w: %w", runtime.ErrRuntime, err)
		}

		archive, err := ctr.Export(ctx, output, p.imageConfig(finalState))
		if err != nil {
			return fmt.Errorf("%w: %w", runtime.ErrRuntime, err)
		}
		slog.Info("exported image", "stage", stage.Name, "archive", archive)
	}

	return nil
}

// Returns the OCI configuration for the exported image.
//
// Env and the working directory come from the final stage's accumulated
// modifier state, so persistent env steps behave like image-level
// environment declarations.
func (p *pipeline) imageConfig(finalState *stepState) runtime.ImageConfig {
	return runtime.ImageConfig{
		Entrypoint:   bootEntrypoint(p.recipe.Boot),
		Env:          finalState.environ(),
		User:         p.recipe.User.Name,
		WorkingDir:   finalState.workdir,
		ExposedPorts: []string{fmt.Sprintf("%d/tcp", p.recipe.Boot.Port)},
	}
}

// Destroys all stage containers.
func (p *pipeline) destroyContainers(ctx context.Context) {
	for _, ctr := range p.containers {
		ctr.Destroy(ctx)
	}
}

// Returns a unique container ID for a stage, scoped to this resource,
// platform, and build session.
func (p *pipeline) containerID(name, platform string) string {
	return fmt.Sprintf("%s-%s-%s-%s", p.resource, platformSlug(platform), name, p.session)
}

// Returns the output directory for a specific platform.
//
// When building for a single platform, the output directory is left as-is
// to preserve the {output}/image.tar convention. For multi-platform builds,
// each platform gets a subdirectory (e.g., {output}/linux-amd64).
func (p *pipeline) platformOutput(platform string) string {
	if len(p.platforms) == 1 {
		return p.output
	}
	return filepath.Join(p.output, platformSlug(platform))
}

// Converts a platform string to a filesystem-safe slug.
//
// Replaces slashes with dashes (e.g., "linux/amd64" becomes "linux-amd64").
func platformSlug(platform string) string {
	return strings.ReplaceAll(platform, "/", "-")
}

// Returns the entrypoint baked into the exported image.
//
// The image boots through the orchestrator binary, which runs the
// migration command and launches the server only after migration succeeds.
func bootEntrypoint(boot manifest.Boot) []string {
	args := []string{toolDest, "boot", "--port", strconv.Itoa(boot.Port)}
	if len(boot.Migrate) > 0 {
		args = append(args, "--migrate", strings.Join(boot.Migrate, " "))
	}
	args = append(args, "--")
	return append(args, boot.Server...)
}

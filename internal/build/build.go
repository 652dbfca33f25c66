package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/fetch"
	"github.com/kilnhq/kiln/internal/manifest"
	"github.com/kilnhq/kiln/internal/paths"
	"github.com/kilnhq/kiln/internal/runtime"
)

// Controls recipe execution.
type Options struct {
	Recipe    *manifest.Recipe // Recipe to execute.
	Resource  string           // Container ID prefix. Defaults to the recipe name.
	Output    string           // Directory for the exported image.
	Root      string           // Project root, for resolving copy sources.
	Model     string           // Model size override. Defaults to the recipe's, then "tiny".
	Platforms []string         // Target platforms (e.g., ["linux/amd64"]). Defaults to host.
	NoCache   bool             // Execute every step even when checkpoints exist.
	LayerDir  string           // Layer checkpoint store root. Defaults to the XDG data dir.
	BaseDir   string           // Base image cache. Defaults to the XDG data dir.
	ModelDir  string           // Model artifact cache. Defaults to the XDG cache dir.
}

// Returned after successful recipe execution.
type Result struct {
	Output string // Directory containing the exported image.
}

// Executes a recipe against the container runtime.
//
// Stages are built in declaration order, resuming from stored checkpoints
// where the plan allows. The non-transient stage is exported to the output
// directory as an OCI archive whose entrypoint boots the service through
// its migration gate.
func Run(ctx context.Context, rt *runtime.Runtime, opts Options) (*Result, error) {
	if opts.Resource == "" {
		opts.Resource = opts.Recipe.Name
	}
	if len(opts.Platforms) == 0 {
		opts.Platforms = []string{runtime.DefaultPlatform()}
	}
	if opts.LayerDir == "" {
		opts.LayerDir = paths.Layers()
	}
	if opts.BaseDir == "" {
		opts.BaseDir = paths.Bases()
	}
	if opts.ModelDir == "" {
		opts.ModelDir = paths.Models()
	}

	size := opts.Model
	if size == "" {
		size = opts.Recipe.Model
	}
	if size == "" {
		size = fetch.DefaultSize
	}

	slog.Info("executing recipe",
		"resource", opts.Resource,
		"output", opts.Output,
		"stages", len(opts.Recipe.Stages),
		"platforms", opts.Platforms,
		"model", size,
	)

	if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	store, err := NewStore(opts.LayerDir)
	if err != nil {
		return nil, err
	}

	model, err := fetch.Lookup(size)
	if err != nil {
		return nil, err
	}

	// The artifact download happens once, before any container starts, so
	// a failed fetch aborts the build without leaving stage containers.
	var modelPath string
	if recipeFetches(opts.Recipe) {
		modelPath, err = fetch.Ensure(ctx, size, opts.ModelDir)
		if err != nil {
			return nil, err
		}
	}

	toolPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("%w: locate orchestrator binary: %w", ErrBuild, err)
	}
	toolDigest, err := digestFile(toolPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	p := &pipeline{
		rt:         rt,
		recipe:     opts.Recipe,
		resource:   opts.Resource,
		session:    uuid.NewString()[:8],
		output:     opts.Output,
		root:       opts.Root,
		noCache:    opts.NoCache,
		store:      store,
		baseDir:    opts.BaseDir,
		model:      model,
		modelPath:  modelPath,
		toolPath:   toolPath,
		toolDigest: toolDigest,
		platforms:  opts.Platforms,
	}

	return p.build(ctx)
}

// Reports whether any stage of the recipe contains a fetch operation.
func recipeFetches(r *manifest.Recipe) bool {
	var scan func(steps []manifest.Step) bool
	scan = func(steps []manifest.Step) bool {
		for _, s := range steps {
			if s.Fetch != "" || scan(s.Steps) {
				return true
			}
		}
		return false
	}

	for _, stage := range r.Stages {
		if scan(stage.Steps) {
			return true
		}
	}
	return false
}

// Hashes a host file's content.
func digestFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.FromReader(f)
}

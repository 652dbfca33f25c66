package cli

import (
	"context"
	"log/slog"

	"github.com/kilnhq/kiln/internal/build"
	"github.com/kilnhq/kiln/internal/manifest"
	"github.com/kilnhq/kiln/internal/runtime"
)

// Default containerd endpoint and namespace for build containers.
const (
	DefaultContainerdAddress = "/run/containerd/containerd.sock"
	DefaultNamespace         = "kiln"
)

// Represents the 'kiln build' command.
type BuildCmd struct {
	Manifest  string   `short:"f" help:"Recipe manifest path. Uses the embedded recipe when omitted." placeholder:"PATH"`
	Output    string   `short:"o" default:"out" help:"Directory for the exported image archive." placeholder:"DIR"`
	Root      string   `default:"." help:"Directory copy sources are resolved against." placeholder:"DIR"`
	Model     string   `help:"Model size to bake into the image. Defaults to the recipe's." placeholder:"SIZE"`
	Platform  []string `help:"Target platforms (e.g. linux/amd64). Defaults to the host platform."`
	NoCache   bool     `help:"Ignore stored checkpoints and execute every step."`
	Resource  string   `help:"Name prefix for containers and the output image. Defaults to the recipe name." placeholder:"NAME"`
	Address   string   `default:"${containerd_address}" help:"Containerd socket address." placeholder:"PATH"`
	Namespace string   `default:"${containerd_namespace}" help:"Containerd namespace." placeholder:"NAME"`
}

// Executes the build command.
//
// Loads the recipe, connects to containerd, and runs the build pipeline.
// The archive lands in the output directory, one per target platform.
func (c *BuildCmd) Run(ctx context.Context) error {
	recipe, err := loadRecipe(c.Manifest)
	if err != nil {
		return err
	}

	rt, err := runtime.New(c.Address, c.Namespace)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := build.Run(ctx, rt, build.Options{
		Recipe:    recipe,
		Resource:  c.Resource,
		Output:    c.Output,
		Root:      c.Root,
		Model:     c.Model,
		Platforms: c.Platform,
		NoCache:   c.NoCache,
	})
	if err != nil {
		return err
	}

	slog.Info("build complete", "output", result.Output)
	return nil
}

// Loads the recipe at path, or the embedded recipe when path is empty.
func loadRecipe(path string) (*manifest.Recipe, error) {
	if path == "" {
		return manifest.Default()
	}
	return manifest.Load(path)
}

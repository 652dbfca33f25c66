package cli

import (
	"context"
	"log/slog"

	"github.com/kilnhq/kiln/internal/fetch"
	"github.com/kilnhq/kiln/internal/paths"
)

// Represents the 'kiln fetch' command.
type FetchCmd struct {
	Size  string `arg:"" optional:"" help:"Model size to download. Defaults to the smallest size."`
	Cache string `help:"Model cache directory. Defaults to the user cache dir." placeholder:"DIR"`
}

// Executes the fetch command.
//
// Downloads the model artifact into the host cache, verifying its digest.
// An artifact that is already cached and verified is left alone, so the
// command is safe to run ahead of every build.
func (c *FetchCmd) Run(ctx context.Context) error {
	size := c.Size
	if size == "" {
		size = fetch.DefaultSize
	}

	cache := c.Cache
	if cache == "" {
		cache = paths.Models()
	}

	path, err := fetch.Ensure(ctx, size, cache)
	if err != nil {
		return err
	}

	slog.Info("model artifact ready", "size", size, "path", path)
	return nil
}

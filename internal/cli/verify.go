package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kilnhq/kiln/internal/fetch"
	"github.com/kilnhq/kiln/internal/inspect"
)

// Represents the 'kiln verify' command.
type VerifyCmd struct {
	Archive  string `arg:"" help:"Image archive to check." type:"existingfile"`
	Manifest string `short:"f" help:"Recipe manifest path. Uses the embedded recipe when omitted." placeholder:"PATH"`
	Model    string `help:"Model size the image was built for. Defaults to the recipe's." placeholder:"SIZE"`
}

// Executes the verify command.
//
// Analyzes the archive and checks it against the recipe's runtime
// contract. Every failed check is logged; any failure makes the command
// exit non-zero.
func (c *VerifyCmd) Run(ctx context.Context) error {
	recipe, err := loadRecipe(c.Manifest)
	if err != nil {
		return err
	}

	size := c.Model
	if size == "" {
		size = recipe.Model
	}
	if size == "" {
		size = fetch.DefaultSize
	}
	if _, err := fetch.Lookup(size); err != nil {
		return err
	}

	img, err := inspect.AnalyzeFile(ctx, c.Archive)
	if err != nil {
		return err
	}

	problems := inspect.Verify(img, recipe, size)
	if len(problems) == 0 {
		slog.Info("image satisfies its recipe", "archive", c.Archive, "model", size)
		return nil
	}

	for _, p := range problems {
		slog.Error("check failed", "check", p.Check, "detail", p.Detail)
	}

	return fmt.Errorf("%w: image fails %d checks", inspect.ErrInspect, len(problems))
}

package cli

import (
	"context"
	"strings"
	"time"

	"github.com/kilnhq/kiln/internal/boot"
)

// Represents the 'kiln boot' command, the entrypoint of built images.
type BootCmd struct {
	Migrate  string        `help:"Migration command run before the server starts. Empty skips the gate." placeholder:"CMD"`
	Port     int           `default:"8000" help:"Port the server binds."`
	Attempts int           `default:"3" help:"Migration attempts before giving up."`
	Backoff  time.Duration `default:"2s" help:"Initial delay between migration attempts."`
	Timeout  time.Duration `help:"Per-attempt migration timeout. Zero runs each attempt to completion."`
	Grace    time.Duration `help:"Wait after SIGTERM before the server is killed." placeholder:"DURATION"`

	Server []string `arg:"" passthrough:"" help:"Server command and arguments."`
}

// Executes the boot command.
//
// Runs the migration gate and, once it opens, supervises the server as the
// container's foreground process. A failed gate or a failing server
// surfaces as this process's exit code, so the container supervisor sees
// exactly what the child reported.
func (c *BootCmd) Run(ctx context.Context) error {
	seq := boot.New(boot.Options{
		Migrate:  strings.Fields(c.Migrate),
		Server:   c.Server,
		Port:     c.Port,
		Attempts: c.Attempts,
		Backoff:  c.Backoff,
		Timeout:  c.Timeout,
		Grace:    c.Grace,
	})

	return seq.Run(ctx)
}

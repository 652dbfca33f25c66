package cli

import (
	"context"
	"fmt"

	"github.com/kilnhq/kiln/internal/schema"
)

// Represents the 'kiln migrate' command.
type MigrateCmd struct {
	Source   string `short:"s" default:"migrations" help:"Directory of versioned migration definitions." placeholder:"DIR"`
	Database string `env:"DATABASE_URL" required:"" help:"Postgres connection string." placeholder:"URL"`
	Status   bool   `help:"Report the current schema version without applying anything."`
}

// Executes the migrate command.
//
// Applies every pending schema version in one transaction. An up-to-date
// schema is a no-op and exits zero, so the boot gate can run this on every
// container start.
func (c *MigrateCmd) Run(ctx context.Context) error {
	db, err := schema.Connect(ctx, c.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	runner := schema.New(db, c.Source)

	if c.Status {
		v, err := runner.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("schema version %d\n", v)
		return nil
	}

	return runner.Upgrade(ctx)
}

package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kilnhq/kiln/internal"
	"github.com/kilnhq/kiln/internal/logging"
)

// Represents the root command for the kiln CLI.
var RootCmd struct {
	Quiet   bool `short:"q" help:"Suppress informational output."`
	Verbose bool `short:"v" help:"Enable verbose output."`
	Debug   bool `short:"d" help:"Enable debug output."`
	LogJSON bool `help:"Emit log records as JSON."`

	Build   BuildCmd   `cmd:"" help:"Build an image archive from a recipe manifest."`
	Boot    BootCmd    `cmd:"" help:"Run schema migration, then the server. The image entrypoint."`
	Fetch   FetchCmd   `cmd:"" help:"Download a model artifact into the host cache."`
	Migrate MigrateCmd `cmd:"" help:"Apply versioned SQL migrations to the database."`
	Verify  VerifyCmd  `cmd:"" help:"Check a built image archive against its recipe."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Builds and boots the transcription service.\n\nRecipes describe a staged container build with pre-baked model artifacts; boot gates the server behind schema migration."),
		kong.UsageOnError(),
		kong.Vars{
			"version":              internal.VersionString(),
			"containerd_address":   DefaultContainerdAddress,
			"containerd_namespace": DefaultNamespace,
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	debug := RootCmd.Debug || internal.IsDebug()
	quiet := RootCmd.Quiet || internal.IsQuiet()
	verbose := RootCmd.Verbose || internal.IsVerbose()

	internal.SetDebug(debug)
	internal.SetQuiet(quiet)
	internal.SetVerbose(verbose)

	level := slog.LevelInfo
	switch {
	case debug || verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}

	mode := logging.ModeCLI
	if RootCmd.LogJSON {
		mode = logging.ModeJSON
	}

	slog.SetDefault(logging.New(mode, os.Stderr, level))
}

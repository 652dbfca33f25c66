package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/kilnhq/kiln/internal"
	"github.com/kilnhq/kiln/internal/boot"
	"github.com/kilnhq/kiln/internal/cli"
	"github.com/kilnhq/kiln/internal/logging"
)

// The entry point for the kiln orchestrator.
//
// Initializes logging, displays startup information, and executes the root
// command. If any error occurs during execution, it exits with a non-zero
// code; a child process failure during boot passes the child's exit code
// through so the container supervisor sees it unchanged.
func main() {
	slog.SetDefault(logging.NewCLI(os.Stderr, logLevel()))

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("kiln is running",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	if err := cli.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(exitCode(err))
	}
}

// Returns the log level derived from build-time linker flags.
func logLevel() slog.Level {
	if internal.IsDebug() {
		return slog.LevelDebug
	}
	if internal.IsQuiet() {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Maps an execution error to the process exit code.
func exitCode(err error) int {
	var exitErr *boot.ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}

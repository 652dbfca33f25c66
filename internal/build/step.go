package build

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kilnhq/kiln/internal/fetch"
	"github.com/kilnhq/kiln/internal/manifest"
	"github.com/kilnhq/kiln/internal/runtime"
)

// Executes planned operations against a stage's build container.
type executor struct {
	ctr       *runtime.Container
	stages    map[string]*runtime.Container
	root      string             // Build context for host copy sources.
	user      manifest.Principal // Principal the stage's files belong to.
	model     fetch.Model
	modelPath string // Host path of the verified model artifact.
	toolPath  string // Host path of the orchestrator binary.
}

// Executes a single planned operation.
func (e *executor) execute(ctx context.Context, p planned) error {
	switch p.kind {
	case opRun:
		return e.executeRun(ctx, p)
	case opCopy:
		return e.executeCopy(ctx, p.step.Copy, p.state.workdir)
	case opFetch:
		return e.executeFetch(ctx, p.step.Fetch)
	case opEnsureUser:
		return e.executeEnsureUser(ctx)
	case opInstallTool:
		return e.executeInstall(ctx)
	}
	return fmt.Errorf("%w: unknown operation kind %d", ErrBuild, p.kind)
}

// Runs a shell command with the operation's resolved modifiers.
func (e *executor) executeRun(ctx context.Context, p planned) error {
	if p.state.workdir != "" {
		if err := e.mkWorkdir(ctx, p.state); err != nil {
			return err
		}
	}

	slog.Debug("run", "command", p.step.Run, "shell", p.state.shell, "user", p.state.user)

	result, err := e.ctr.Exec(ctx, runtime.ExecConfig{
		Shell:   p.state.shell,
		Command: p.step.Run,
		Env:     p.state.environ(),
		Workdir: p.state.workdir,
		User:    e.identity(p.state.user),
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%w: exit code %d: %s", ErrCommandFailed, result.ExitCode, result.Stderr)
	}

	return nil
}

// Creates the principal's group and account if they do not exist.
//
// Runs first in every stage so later operations can reference the
// principal by uid. The getent probes keep it idempotent whether the
// stage starts from the base image or from a restored checkpoint.
func (e *executor) executeEnsureUser(ctx context.Context) error {
	script := fmt.Sprintf(
		"getent group %d >/dev/null || groupadd -g %d %s\n"+
			"getent passwd %d >/dev/null || useradd -m -d %s -u %d -g %d -s /bin/sh %s",
		e.user.GID, e.user.GID, e.user.Name,
		e.user.UID, e.user.Home, e.user.UID, e.user.GID, e.user.Name,
	)

	slog.Debug("ensure principal", "name", e.user.Name, "uid", e.user.UID, "gid", e.user.GID)

	result, err := e.ctr.Exec(ctx, runtime.ExecConfig{
		Shell:   "/bin/sh",
		Command: script,
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%w: create principal: exit code %d: %s", ErrCommandFailed, result.ExitCode, result.Stderr)
	}

	return nil
}

// Creates the operation's working directory if missing, owned by the
// user the operation runs as.
func (e *executor) mkWorkdir(ctx context.Context, state *stepState) error {
	if state.user == e.user.Name {
		return e.ctr.MkdirAllOwned(ctx, state.workdir, e.user.Identity())
	}
	return e.ctr.MkdirAll(ctx, state.workdir)
}

// Maps a manifest user name to a uid:gid identity for exec.
//
// Empty means the container default. The principal resolves to its
// declared uid and gid; root resolves to 0:0.
func (e *executor) identity(name string) string {
	switch name {
	case "root":
		return "0:0"
	case e.user.Name:
		return e.user.Identity()
	}
	return ""
}

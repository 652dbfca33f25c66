package boot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kilnhq/kiln/internal/server"
)

// Default migration retry policy.
const (
	DefaultAttempts = 3
	DefaultBackoff  = 2 * time.Second
)

// A phase of the boot sequence.
type State string

const (
	StateStart           State = "start"
	StateMigrating       State = "migrating"
	StateMigrated        State = "migrated"
	StateServing         State = "serving"
	StateMigrationFailed State = "migration_failed"
	StateTerminated      State = "terminated"
)

// Controls the boot sequence.
type Options struct {
	Migrate  []string      // Migration command. Empty skips the migration gate.
	Server   []string      // Server command.
	Port     int           // Service port, passed through to the server process.
	Attempts int           // Migration attempts before giving up. Empty uses [DefaultAttempts].
	Backoff  time.Duration // Initial retry backoff. Empty uses [DefaultBackoff].
	Timeout  time.Duration // Per-attempt migration timeout. Zero runs to completion.
	Grace    time.Duration // Server shutdown grace period.
}

// Reports a non-zero exit from the migration or server process.
//
// Code carries the child's exit code so the container exits with the same
// status the failing process produced.
type ExitError struct {
	Code  int
	State State
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exited with code %d during %s", e.Code, e.State)
}

// Runs a command to completion and reports its exit code.
//
// The error is reserved for commands that cannot run at all; a command
// that runs and fails reports its exit code with a nil error.
type CommandRunner interface {
	Run(ctx context.Context, command []string) (int, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, command []string) (int, error) {
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Supervises the server process once the migration gate opens.
// Implemented by [server.Server].
type Supervisor interface {
	Start() error
	Wait() int
	Stop()
}

// Sequencer drives a container boot: migrate, then serve.
//
// The server never starts unless the migration command exits zero, so a
// failed or partial schema change cannot receive traffic.
type Sequencer struct {
	opts      Options
	state     State
	runner    CommandRunner
	supervise func() (Supervisor, error)
}

// Creates a boot sequencer with defaults filled in.
func New(opts Options) *Sequencer {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}

	return &Sequencer{
		opts:   opts,
		state:  StateStart,
		runner: execRunner{},
		supervise: func() (Supervisor, error) {
			return server.New(server.Config{
				Command: opts.Server,
				Port:    opts.Port,
				Grace:   opts.Grace,
			})
		},
	}
}

// Returns the sequencer's current state.
func (s *Sequencer) State() State {
	return s.state
}

// Runs the boot sequence to completion.
//
// Returns nil when the server exits cleanly, an [ExitError] when the
// migration gate or the server fails, and a wrapped [ErrBoot] when a
// process cannot be started at all. Shutdown signals stop the server
// gracefully.
func (s *Sequencer) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if len(s.opts.Migrate) > 0 {
		s.transition(StateMigrating)

		code, err := s.migrate(ctx)
		if err != nil {
			s.transition(StateMigrationFailed)
			return fmt.Errorf("%w: migration: %w", ErrBoot, err)
		}
		if code != 0 {
			s.transition(StateMigrationFailed)
			return &ExitError{Code: code, State: StateMigrationFailed}
		}
	} else {
		slog.Warn("no migration command configured, gate is open by default")
	}
	s.transition(StateMigrated)

	srv, err := s.supervise()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBoot, err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrBoot, err)
	}
	s.transition(StateServing)

	go func() {
		<-ctx.Done()
		srv.Stop()
	}()

	code := srv.Wait()
	s.transition(StateTerminated)

	if code != 0 {
		return &ExitError{Code: code, State: StateTerminated}
	}
	return nil
}

// Runs the migration command with bounded retries.
//
// Returns the last attempt's exit code. The error is reserved for
// commands that cannot be started; such failures are not retried.
func (s *Sequencer) migrate(ctx context.Context) (int, error) {
	code := -1
	var startErr error
	attempt := 0

	op := func() error {
		attempt++
		actx := ctx
		if s.opts.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
			defer cancel()
		}

		slog.Info("running migration",
			"command", s.opts.Migrate,
			"attempt", fmt.Sprintf("%d/%d", attempt, s.opts.Attempts),
		)

		c, err := s.runner.Run(actx, s.opts.Migrate)
		if err != nil {
			startErr = err
			return backoff.Permanent(err)
		}

		code = c
		if c != 0 {
			slog.Warn("migration attempt failed", "code", c, "attempt", attempt)
			return fmt.Errorf("exit code %d", c)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.Backoff
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.opts.Attempts-1)), ctx)

	if err := backoff.Retry(op, retry); err != nil {
		if startErr != nil {
			return -1, startErr
		}
		return code, nil
	}
	return 0, nil
}

// Moves the sequencer to a new state, logging the transition.
func (s *Sequencer) transition(to State) {
	slog.Info("boot state transition", "from", string(s.state), "to", string(to))
	s.state = to
}

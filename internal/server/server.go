package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// How long a stopped server gets to exit before it is killed.
const DefaultGrace = 10 * time.Second

// Holds supervisor configuration.
type Config struct {
	Command []string      // Server command and arguments.
	Port    int           // Service port, exported to the child as PORT when set.
	Grace   time.Duration // Wait after SIGTERM before SIGKILL. Empty uses [DefaultGrace].
}

// Supervises the long-running server process.
//
// The child inherits the parent's stdout and stderr, so service logs flow
// straight to the container's output streams.
type Server struct {
	cmd     *exec.Cmd
	grace   time.Duration
	done    chan struct{} // Closed when the process has exited.
	result  error         // Exit result, set before done closes.
	mu      sync.Mutex
	stopped bool
}

// Creates a new supervisor.
//
// The process is not started until [Server.Start] is called.
func New(cfg Config) (*Server, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("%w: empty server command", ErrServer)
	}

	grace := cfg.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if cfg.Port > 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("PORT=%d", cfg.Port))
	}

	return &Server{
		cmd:   cmd,
		grace: grace,
		done:  make(chan struct{}),
	}, nil
}

// Starts the server process.
func (s *Server) Start() error {
	slog.Info("starting server", "command", s.cmd.Args)

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrServer, err)
	}

	go func() {
		s.result = s.cmd.Wait()
		close(s.done)
	}()

	return nil
}

// Blocks until the server process exits and returns its exit code.
func (s *Server) Wait() int {
	<-s.done
	return exitCode(s.result)
}

// Signals the server to shut down.
//
// Sends SIGTERM, then SIGKILL if the process is still running after the
// grace period. Blocks until the process has exited. Safe to call from a
// signal handler while another goroutine is in [Server.Wait].
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped || s.cmd.Process == nil {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}

	slog.Info("stopping server", "grace", s.grace)

	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return
	}

	select {
	case <-s.done:
	case <-time.After(s.grace):
		slog.Warn("server did not exit within grace period, killing")
		s.cmd.Process.Kill()
		<-s.done
	}
}

// Maps a process exit result to a shell-style exit code.
//
// A normal exit reports the process's own code. Death by signal reports
// 128 plus the signal number.
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}

	return 1
}

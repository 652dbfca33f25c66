package server

import (
	"errors"
	"os/exec"
	"testing"
	"time"
)

func TestNewEmptyCommand(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, ErrServer) {
		t.Fatalf("err = %v, want ErrServer", err)
	}
}

func TestWaitReportsExitCode(t *testing.T) {
	tests := []struct {
		name    string
		command []string
		want    int
	}{
		{"clean exit", []string{"/bin/sh", "-c", "exit 0"}, 0},
		{"failure exit", []string{"/bin/sh", "-c", "exit 3"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := New(Config{Command: tt.command})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if err := srv.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if got := srv.Wait(); got != tt.want {
				t.Fatalf("Wait = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPortExported(t *testing.T) {
	srv, err := New(Config{
		Command: []string{"/bin/sh", "-c", `test "$PORT" = 8000`},
		Port:    8000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := srv.Wait(); got != 0 {
		t.Fatalf("PORT not visible to child, exit = %d", got)
	}
}

func TestStopGraceful(t *testing.T) {
	srv, err := New(Config{
		Command: []string{"/bin/sh", "-c", `trap 'exit 0' TERM; sleep 60 & wait`},
		Grace:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Give the shell a moment to install its trap.
	time.Sleep(100 * time.Millisecond)

	done := make(chan int, 1)
	go func() { done <- srv.Wait() }()

	srv.Stop()

	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("graceful stop exit = %d, want 0", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit after Stop")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	srv, err := New(Config{
		Command: []string{"/bin/sh", "-c", `trap '' TERM; sleep 60`},
		Grace:   100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	srv.Stop()

	if got := srv.Wait(); got != 137 {
		t.Fatalf("killed server exit = %d, want 137", got)
	}
}

func TestStopAfterExit(t *testing.T) {
	srv, err := New(Config{Command: []string{"/bin/sh", "-c", "exit 0"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv.Wait()

	// Stop on an exited process is a no-op.
	srv.Stop()
}

func TestExitCode(t *testing.T) {
	if got := exitCode(nil); got != 0 {
		t.Errorf("exitCode(nil) = %d, want 0", got)
	}
	if got := exitCode(errors.New("not an exit error")); got != 1 {
		t.Errorf("exitCode(plain error) = %d, want 1", got)
	}

	cmd := exec.Command("/bin/sh", "-c", "exit 7")
	err := cmd.Run()
	if got := exitCode(err); got != 7 {
		t.Errorf("exitCode = %d, want 7", got)
	}
}

// Package server supervises the long-running service process.
//
// The supervisor starts the server command as a child process with
// inherited output streams, waits for it to exit, and translates the exit
// status into a shell-style exit code. Stop delivers SIGTERM and escalates
// to SIGKILL after a grace period, so a container shutdown signal always
// terminates the service.
//
// Example usage:
//
//	srv, err := server.New(server.Config{
//	    Command: []string{"uvicorn", "app.main:app", "--port", "8000"},
//	    Port:    8000,
//	})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	os.Exit(srv.Wait())
package server

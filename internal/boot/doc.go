// Package boot sequences a container start: migrate, then serve.
//
// The sequencer moves through a fixed set of states. It runs the schema
// migration command as a subprocess, retrying with exponential backoff,
// and only starts the server once a migration attempt exits zero:
//
//	start -> migrating -> migrated -> serving -> terminated
//	             \
//	              -> migration_failed
//
// Every transition is logged. When the migration gate stays shut, the
// container exits with the migration command's exit code and the server
// process is never started. A running server is shut down gracefully on
// SIGTERM or SIGINT, and its exit code becomes the container's.
package boot

package runtime

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Creates a directory inside the container, including parents.
func (c *Container) MkdirAll(ctx context.Context, path string) error {
	return c.mustExec(ctx, "mkdir", nil, nil, "mkdir", "-p", path)
}

// Creates a directory inside the container owned by the given identity.
//
// Parents are created as needed; only the leaf directory gets the ownership.
func (c *Container) MkdirAllOwned(ctx context.Context, path, owner string) error {
	return c.mustExec(ctx, "mkdir", nil, nil, "install", "-d", "-o", ownerUID(owner), "-g", ownerGID(owner), path)
}

// Copies a tar stream into the container's filesystem.
//
// The contents of r are extracted into destDir by piping them to "tar xf - -C
// destDir" inside the container.
func (c *Container) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	return c.mustExec(ctx, "tar extract", r, nil, "tar", "xf", "-", "-C", destDir)
}

// Copies a path from the container's filesystem as a tar stream.
//
// The file or directory at path is archived by running "tar cf - -C <dir>
// <base>" inside the container and streaming the output to w.
func (c *Container) CopyFrom(ctx context.Context, w io.Writer, path string) error {
	return c.mustExec(ctx, "tar archive", nil, w, "tar", "cf", "-", "-C", filepath.Dir(path), filepath.Base(path))
}

// Helper method that runs a command inside the container, returning an error
// that includes desc if the process exits with a non-zero code.
func (c *Container) mustExec(ctx context.Context, desc string, stdin io.Reader, stdout io.Writer, args ...string) error {
	exitCode, stderr, err := c.execCommand(ctx, stdin, stdout, args...)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: %s failed with exit code %d (%s)", ErrRuntime, desc, exitCode, stderr)
	}
	return nil
}

// Returns the uid half of a "uid:gid" identity string.
func ownerUID(owner string) string {
	uid, _, _ := strings.Cut(owner, ":")
	return uid
}

// Returns the gid half of a "uid:gid" identity string.
func ownerGID(owner string) string {
	_, gid, ok := strings.Cut(owner, ":")
	if !ok {
		return owner
	}
	return gid
}

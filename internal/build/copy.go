package build

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Executes a copy operation, transferring files into the container.
//
// The copy string has the format "src dest" for host copies, or "stage:src
// dest" for cross-stage copies. Host sources are resolved relative to the
// build context and written with the principal's ownership. Cross-stage
// sources are streamed from a named stage container's filesystem with
// their ownership preserved.
func (e *executor) executeCopy(ctx context.Context, copyStr, workdir string) error {
	src, dest, err := parseCopy(copyStr, workdir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	// The destination parent belongs to the principal so copied trees
	// stay writable by the service user.
	destDir := filepath.Dir(dest)
	if destDir != "" {
		if err := e.ctr.MkdirAllOwned(ctx, destDir, e.user.Identity()); err != nil {
			return fmt.Errorf("%w: %w", ErrCopy, err)
		}
	}

	// Cross-stage copy: "stage:path".
	if stage, path, ok := parseStageCopy(src); ok {
		return e.executeStageCopy(ctx, stage, path, dest)
	}

	return e.executeHostCopy(ctx, src, dest)
}

// Copies a file or directory from the host into the container.
//
// Tar headers carry the principal's uid and gid, so the extracted files
// belong to the service user rather than root.
func (e *executor) executeHostCopy(ctx context.Context, src, dest string) error {
	if !filepath.IsAbs(src) {
		src = filepath.Join(e.root, src)
	}

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	slog.Debug("copy", "src", src, "dest", dest, "dir", info.IsDir())

	pr, pw := io.Pipe()

	go func() {
		tw := tar.NewWriter(pw)
		var writeErr error

		if info.IsDir() {
			writeErr = writeDirToTar(tw, src, filepath.Base(dest), e.user.UID, e.user.GID)
		} else {
			writeErr = writeFileToTar(tw, src, filepath.Base(dest), e.user.UID, e.user.GID)
		}

		tw.Close()
		pw.CloseWithError(writeErr)
	}()

	if err := e.ctr.CopyTo(ctx, pr, filepath.Dir(dest)); err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	return nil
}

// Copies a path from a named stage container into the target container.
//
// The tar stream is piped directly from the source container's CopyFrom
// to the target container's CopyTo, preserving ownership recorded in the
// source filesystem.
func (e *executor) executeStageCopy(ctx context.Context, stage, path, dest string) error {
	srcCtr, ok := e.stages[stage]
	if !ok {
		return fmt.Errorf("%w: unknown stage %q", ErrCopy, stage)
	}

	slog.Debug("cross-stage copy", "stage", stage, "src", path, "dest", dest)

	pr, pw := io.Pipe()

	errc := make(chan error, 1)
	go func() {
		errc <- srcCtr.CopyFrom(ctx, pw, path)
		pw.Close()
	}()

	if err := e.ctr.CopyTo(ctx, pr, filepath.Dir(dest)); err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	if err := <-errc; err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	return nil
}

// Injects the verified model artifact into the container.
//
// The artifact is installed under destDir as <size>.pt with the
// principal's ownership, matching the layout the transcription library
// expects in its cache directory.
func (e *executor) executeFetch(ctx context.Context, destDir string) error {
	if err := e.ctr.MkdirAllOwned(ctx, destDir, e.user.Identity()); err != nil {
		return fmt.Errorf("%w: %w", ErrBuild, err)
	}

	slog.Debug("inject model", "size", e.model.Size, "dest", destDir)

	header := &tar.Header{
		Name: e.model.Filename(),
		Mode: 0o644,
		Uid:  e.user.UID,
		Gid:  e.user.GID,
	}
	if err := e.injectFile(ctx, e.modelPath, destDir, header); err != nil {
		return fmt.Errorf("%w: inject model: %w", ErrBuild, err)
	}

	return nil
}

// Installs the orchestrator binary into the container.
//
// The binary becomes the image entrypoint, so the exported image can run
// its boot sequence without any external tooling.
func (e *executor) executeInstall(ctx context.Context) error {
	dir := filepath.Dir(toolDest)
	if err := e.ctr.MkdirAll(ctx, dir); err != nil {
		return fmt.Errorf("%w: %w", ErrBuild, err)
	}

	slog.Debug("install tool", "src", e.toolPath, "dest", toolDest)

	header := &tar.Header{
		Name: filepath.Base(toolDest),
		Mode: 0o755,
	}
	if err := e.injectFile(ctx, e.toolPath, dir, header); err != nil {
		return fmt.Errorf("%w: install tool: %w", ErrBuild, err)
	}

	return nil
}

// Streams a single host file into the container as a one-entry tar
// archive. The header's size, modtime, and type are filled from the file;
// name, mode, and ownership come from the caller.
func (e *executor) injectFile(ctx context.Context, hostPath, destDir string, header *tar.Header) error {
	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header.Size = info.Size()
	header.ModTime = info.ModTime()
	header.Typeflag = tar.TypeReg

	pr, pw := io.Pipe()
	go func() {
		tw := tar.NewWriter(pw)
		err := tw.WriteHeader(header)
		if err == nil {
			_, err = io.Copy(tw, f)
		}
		tw.Close()
		pw.CloseWithError(err)
	}()

	return e.ctr.CopyTo(ctx, pr, destDir)
}

// Parses a cross-stage copy source of the form "stage:path".
//
// Returns the stage name, the path within the stage, and true if the source
// matches the cross-stage format. Returns false if it is a regular host path.
func parseStageCopy(src string) (stage, path string, ok bool) {
	i := strings.IndexByte(src, ':')
	if i < 1 {
		return "", "", false
	}

	// A colon after a path separator is not a stage prefix (e.g. "/foo:bar").
	if strings.ContainsRune(src[:i], '/') {
		return "", "", false
	}

	return src[:i], src[i+1:], true
}

// Parses a copy string into source and destination paths.
//
// The string must contain exactly two whitespace-separated tokens. If dest
// is not absolute, it is joined with workdir.
func parseCopy(s, workdir string) (src, dest string, err error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("expected source and destination, got %q", s)
	}

	src = parts[0]
	dest = parts[1]

	if !filepath.IsAbs(dest) {
		if workdir == "" {
			return "", "", fmt.Errorf("relative dest %q requires workdir", dest)
		}
		dest = filepath.Join(workdir, dest)
	}

	return src, dest, nil
}

// Writes a single file to a tar writer with the given archive name and owner.
func writeFileToTar(tw *tar.Writer, hostPath, name string, uid, gid int) error {
	info, err := os.Stat(hostPath)
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name
	header.Uid = uid
	header.Gid = gid

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// Writes a directory tree to a tar writer rooted at the given archive prefix.
func writeDirToTar(tw *tar.Writer, hostDir, prefix string, uid, gid int) error {
	return filepath.WalkDir(hostDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(hostDir, path)
		if err != nil {
			return err
		}

		archivePath := filepath.ToSlash(filepath.Join(prefix, relPath))
		return writeTarEntry(tw, path, archivePath, d, uid, gid)
	})
}

// Writes a single file, directory, or symlink entry to a tar writer.
func writeTarEntry(tw *tar.Writer, hostPath, archivePath string, d os.DirEntry, uid, gid int) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		link, err = os.Readlink(hostPath)
		if err != nil {
			return err
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = archivePath
	header.Uid = uid
	header.Gid = gid

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if info.Mode().IsRegular() {
		f, err := os.Open(hostPath)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	}

	return nil
}

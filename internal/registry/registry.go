package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
	"github.com/containerd/platforms"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/paths"
)

var ErrRegistry = errors.New("base image resolution failed")

// Number of pull attempts before giving up on a registry.
const pullAttempts = 3

// A base image resolved to a local OCI archive.
//
// Digest identifies the archive content: the manifest digest for registry
// pulls, or the file digest for local archives. Build cache keys are seeded
// from it, so a moved tag or a replaced file invalidates dependent layers.
type Base struct {
	Path   string
	Digest digest.Digest
}

// Resolves a stage's base reference to a local archive.
//
// A reference naming an existing file is used in place. Anything else is
// treated as a registry reference: the manifest for the target platform is
// fetched, and the image is downloaded into the cache directory keyed by
// its digest. Repeated builds of an unchanged base skip the download.
func Resolve(ctx context.Context, from, platform, cacheDir string) (*Base, error) {
	if info, err := os.Stat(from); err == nil && !info.IsDir() {
		return resolveArchive(from)
	}

	return resolvePull(ctx, from, platform, cacheDir)
}

// Resolves a local archive file by hashing its content.
func resolveArchive(path string) (*Base, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistry, err)
	}
	defer f.Close()

	dgst, err := digest.FromReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistry, err)
	}

	return &Base{Path: path, Digest: dgst}, nil
}

// Pulls a registry reference into the cache, keyed by manifest digest.
func resolvePull(ctx context.Context, from, platform, cacheDir string) (*Base, error) {
	ref, err := name.ParseReference(from)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrRegistry, from, err)
	}

	img, err := fetchImage(ctx, ref, platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrRegistry, from, err)
	}

	hash, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrRegistry, from, err)
	}
	dgst := digest.Digest(hash.String())

	path := filepath.Join(cacheDir, hash.Hex, "image.tar")
	if _, err := os.Stat(path); err == nil {
		slog.Debug("base image cached", "ref", from, "digest", dgst)
		return &Base{Path: path, Digest: dgst}, nil
	}

	slog.Info("pulling base image", "ref", from, "platform", platform)

	if err := writeArchive(path, ref, img); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrRegistry, from, err)
	}

	return &Base{Path: path, Digest: dgst}, nil
}

// Fetches the platform-specific image manifest, retrying transient failures.
func fetchImage(ctx context.Context, ref name.Reference, platform string) (v1.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	var img v1.Image
	op := func() error {
		var err error
		img, err = remote.Image(ref,
			remote.WithContext(ctx),
			remote.WithAuthFromKeychain(authn.DefaultKeychain),
			remote.WithPlatform(v1.Platform{
				OS:           p.OS,
				Architecture: p.Architecture,
				Variant:      p.Variant,
			}),
		)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), pullAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}

	return img, nil
}

// Writes the image as a docker-style archive, atomically.
//
// The archive is written to a temporary file in the destination directory
// and renamed into place, so a partial download never looks like a cache
// hit. The archive always carries a tag because containerd's importer names
// images from the archive's repo tags.
func writeArchive(path string, ref name.Reference, img v1.Image) error {
	tag, ok := ref.(name.Tag)
	if !ok {
		tag = ref.Context().Tag("pulled")
	}

	if err := os.MkdirAll(filepath.Dir(path), paths.DefaultDirMode); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "pull-*.tar")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tarball.Write(tag, img, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

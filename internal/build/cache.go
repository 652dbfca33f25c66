package build

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/paths"
)

// Name of the OCI archive inside a checkpoint directory.
const archiveName = "image.tar"

// Describes a stored checkpoint. Written alongside the archive so the
// layer store can be inspected without replaying a build.
type checkpointMeta struct {
	Key       digest.Digest `json:"key"`
	Parent    digest.Digest `json:"parent,omitempty"`
	Resource  string        `json:"resource"`
	Stage     string        `json:"stage"`
	Step      string        `json:"step"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store holds per-step checkpoints as OCI archives keyed by cumulative
// cache key. Commits are atomic: the archive is produced in a temporary
// directory and renamed into place, so a key either resolves to a complete
// checkpoint or to nothing.
type Store struct {
	dir string
}

// Creates a layer store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}
	return &Store{dir: dir}, nil
}

// Reports whether a checkpoint exists for the key.
func (s *Store) Has(key digest.Digest) bool {
	_, err := os.Stat(s.ArchivePath(key))
	return err == nil
}

// Returns the path of the key's OCI archive. The archive exists only
// if Has reports true.
func (s *Store) ArchivePath(key digest.Digest) string {
	return filepath.Join(s.keyDir(key), archiveName)
}

// Stores a checkpoint under the key.
//
// The export callback receives a temporary directory and must write the
// archive there as image.tar. If a checkpoint for the key already exists,
// including one committed concurrently, the new one is discarded.
func (s *Store) Commit(key digest.Digest, meta checkpointMeta, export func(dir string) error) error {
	if s.Has(key) {
		return nil
	}

	tmp, err := os.MkdirTemp(s.dir, "commit-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	defer os.RemoveAll(tmp)

	if err := export(tmp); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(tmp, archiveName)); err != nil {
		return fmt.Errorf("%w: export produced no archive: %w", ErrCache, err)
	}

	meta.Key = key
	meta.CreatedAt = time.Now().UTC()
	if err := writeMeta(filepath.Join(tmp, "meta.json"), meta); err != nil {
		return err
	}

	if err := os.Rename(tmp, s.keyDir(key)); err != nil {
		if s.Has(key) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	return nil
}

func (s *Store) keyDir(key digest.Digest) string {
	return filepath.Join(s.dir, key.Algorithm().String()+"-"+key.Encoded())
}

func writeMeta(path string, meta checkpointMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	if err := os.WriteFile(path, data, paths.DefaultFileMode); err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	return nil
}

package build

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
)

func testArchiveExport(content string) func(dir string) error {
	return func(dir string) error {
		return os.WriteFile(filepath.Join(dir, archiveName), []byte(content), 0o644)
	}
}

func TestStoreCommitAndHas(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	key := digest.FromString("step-1")
	if store.Has(key) {
		t.Fatal("empty store reports key as present")
	}

	meta := checkpointMeta{Resource: "scribe", Stage: "builder", Step: "run: echo hi"}
	if err := store.Commit(key, meta, testArchiveExport("archive")); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if !store.Has(key) {
		t.Fatal("committed key not present")
	}

	data, err := os.ReadFile(store.ArchivePath(key))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if string(data) != "archive" {
		t.Fatalf("archive = %q, want %q", data, "archive")
	}

	raw, err := os.ReadFile(filepath.Join(filepath.Dir(store.ArchivePath(key)), "meta.json"))
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	var got checkpointMeta
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal meta: %v", err)
	}
	if got.Key != key {
		t.Errorf("meta.Key = %s, want %s", got.Key, key)
	}
	if got.Stage != "builder" || got.Step != "run: echo hi" {
		t.Errorf("meta = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("meta.CreatedAt not set")
	}
}

func TestStoreCommitIdempotent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	key := digest.FromString("step-1")
	if err := store.Commit(key, checkpointMeta{}, testArchiveExport("first")); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// A second commit for the same key must not re-export.
	err = store.Commit(key, checkpointMeta{}, func(dir string) error {
		t.Fatal("export called for an existing checkpoint")
		return nil
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	data, err := os.ReadFile(store.ArchivePath(key))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if string(data) != "first" {
		t.Fatalf("archive = %q, want first commit preserved", data)
	}
}

func TestStoreCommitFailedExport(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	key := digest.FromString("step-1")
	boom := errors.New("boom")
	err = store.Commit(key, checkpointMeta{}, func(dir string) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want export error", err)
	}

	if store.Has(key) {
		t.Fatal("failed export left a checkpoint behind")
	}
}

func TestStoreCommitMissingArchive(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	key := digest.FromString("step-1")
	err = store.Commit(key, checkpointMeta{}, func(dir string) error { return nil })
	if !errors.Is(err, ErrCache) {
		t.Fatalf("err = %v, want ErrCache", err)
	}

	if store.Has(key) {
		t.Fatal("empty export left a checkpoint behind")
	}
}

func TestStoreDistinctKeys(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	k1, k2 := digest.FromString("step-1"), digest.FromString("step-2")
	if err := store.Commit(k1, checkpointMeta{}, testArchiveExport("one")); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if store.Has(k2) {
		t.Fatal("uncommitted key reported present")
	}
	if store.ArchivePath(k1) == store.ArchivePath(k2) {
		t.Fatal("distinct keys share an archive path")
	}
}

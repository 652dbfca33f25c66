package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
)

func TestResolveLocalArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "base.tar")
	content := []byte("not a real archive, content only matters for the digest")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	base, err := Resolve(context.Background(), path, "linux/amd64", dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if base.Path != path {
		t.Errorf("Path = %q, want %q (local files are used in place)", base.Path, path)
	}
	if want := digest.FromBytes(content); base.Digest != want {
		t.Errorf("Digest = %s, want %s", base.Digest, want)
	}
}

func TestResolveLocalArchiveDigestTracksContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "base.tar")

	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	first, err := Resolve(context.Background(), path, "linux/amd64", dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := Resolve(context.Background(), path, "linux/amd64", dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if first.Digest == second.Digest {
		t.Error("digest did not change when archive content changed")
	}
}

func TestResolveRejectsUnparseableReference(t *testing.T) {
	// Uppercase repository names are invalid references, and the path does
	// not exist, so resolution must fail rather than guess.
	_, err := Resolve(context.Background(), "Not A Ref", "linux/amd64", t.TempDir())
	if err == nil {
		t.Fatal("Resolve succeeded, want error")
	}
	if !errors.Is(err, ErrRegistry) {
		t.Errorf("err = %v, want ErrRegistry", err)
	}
}

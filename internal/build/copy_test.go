package build

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestParseCopy(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		workdir string
		src     string
		dest    string
		wantErr bool
	}{
		{
			name:  "absolute dest",
			input: "file.txt /opt/file.txt",
			src:   "file.txt",
			dest:  "/opt/file.txt",
		},
		{
			name:    "relative dest with workdir",
			input:   "file.txt out/",
			workdir: "/app",
			src:     "file.txt",
			dest:    "/app/out",
		},
		{
			name:    "relative dest without workdir",
			input:   "file.txt out/",
			wantErr: true,
		},
		{
			name:    "missing destination",
			input:   "file.txt",
			wantErr: true,
		},
		{
			name:    "too many tokens",
			input:   "a b c",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, dest, err := parseCopy(tt.input, tt.workdir)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertParseCopy(t, src, dest, tt.src, tt.dest)
		})
	}
}

func assertParseCopy(t *testing.T, gotSrc, gotDest, wantSrc, wantDest string) {
	t.Helper()
	if gotSrc != wantSrc {
		t.Errorf("src = %q, want %q", gotSrc, wantSrc)
	}
	if gotDest != wantDest {
		t.Errorf("dest = %q, want %q", gotDest, wantDest)
	}
}

func TestParseStageCopy(t *testing.T) {
	tests := []struct {
		name  string
		input string
		stage string
		path  string
		ok    bool
	}{
		{
			name:  "valid stage copy",
			input: "build:/app/bin",
			stage: "build",
			path:  "/app/bin",
			ok:    true,
		},
		{
			name:  "no colon",
			input: "/usr/local/bin",
		},
		{
			name:  "colon at start",
			input: ":/some/path",
		},
		{
			name:  "colon after slash",
			input: "/foo:bar",
		},
		{
			name:  "slash in prefix",
			input: "some/stage:path",
		},
		{
			name:  "simple host path",
			input: "file.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage, path, ok := parseStageCopy(tt.input)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !tt.ok {
				return
			}
			if stage != tt.stage {
				t.Errorf("stage = %q, want %q", stage, tt.stage)
			}
			if path != tt.path {
				t.Errorf("path = %q, want %q", path, tt.path)
			}
		})
	}
}

func TestWriteFileToTarOwnership(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(path, []byte("fastapi\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := writeFileToTar(tw, path, "requirements.txt", 1000, 1000); err != nil {
		t.Fatalf("writeFileToTar: %v", err)
	}
	tw.Close()

	tr := tar.NewReader(&buf)
	hdr, err := tr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Name != "requirements.txt" {
		t.Errorf("name = %q, want requirements.txt", hdr.Name)
	}
	if hdr.Uid != 1000 || hdr.Gid != 1000 {
		t.Errorf("owner = %d:%d, want 1000:1000", hdr.Uid, hdr.Gid)
	}

	content, err := io.ReadAll(tr)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "fastapi\n" {
		t.Errorf("content = %q, want fastapi", content)
	}
}

func TestWriteDirToTar(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("a.txt", filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := writeDirToTar(tw, dir, "app", 1000, 1000); err != nil {
		t.Fatalf("writeDirToTar: %v", err)
	}
	tw.Close()

	entries := make(map[string]*tar.Header)
	tr := tar.NewReader(&buf)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		entries[hdr.Name] = hdr
	}

	for _, name := range []string{"app", "app/a.txt", "app/sub", "app/sub/b.txt", "app/link"} {
		if _, ok := entries[name]; !ok {
			t.Fatalf("missing entry %q, have %d entries", name, len(entries))
		}
	}
	if entries["app"].Typeflag != tar.TypeDir {
		t.Errorf("app typeflag = %v, want dir", entries["app"].Typeflag)
	}
	if got := entries["app/a.txt"]; got.Uid != 1000 || got.Gid != 1000 {
		t.Errorf("a.txt owner = %d:%d, want 1000:1000", got.Uid, got.Gid)
	}
	if got := entries["app/link"]; got.Typeflag != tar.TypeSymlink || got.Linkname != "a.txt" {
		t.Errorf("link = %v -> %q, want symlink -> a.txt", got.Typeflag, got.Linkname)
	}
}

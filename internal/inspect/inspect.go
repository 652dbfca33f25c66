package inspect

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	whiteoutPrefix = ".wh."
	opaqueMarker   = ".wh..wh..opq"
)

// Docker-style manifest entry naming an image's config blob and ordered
// layer blobs within the archive.
type archiveManifest struct {
	Config   string   `json:"Config,omitempty"`
	RepoTags []string `json:"RepoTags,omitempty"`
	Layers   []string `json:"Layers,omitempty"`
}

// A file in the image's merged filesystem. Path is relative to the
// image root, without a leading slash.
type File struct {
	Path string
	Mode int64
	UID  int
	GID  int
	Size int64
	Dir  bool
	Link string
}

// The report produced by analyzing an image archive: the tags the
// archive declares for the image, its runtime configuration, and the
// filesystem the ordered layers merge into.
type Image struct {
	Tags   []string
	Config ocispec.ImageConfig
	Files  map[string]File
}

// Opens path and analyzes the image archive it holds.
func AnalyzeFile(ctx context.Context, path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInspect, err)
	}
	defer f.Close()

	return Analyze(ctx, f)
}

// Reads an image archive in a single pass and reports the image it
// holds.
//
// The archive must carry a Docker-compatible manifest.json naming the
// config and layer blobs; both containerd exports and registry tarballs
// do. Blob names are opaque, so every regular entry is sniffed: gzip
// and tar streams are scanned as layers, JSON objects are decoded as
// image configs and kept when they turn out to be one. The manifest is
// joined against the collected blobs once the pass completes.
func Analyze(ctx context.Context, r io.Reader) (*Image, error) {
	var manifests []archiveManifest
	configs := make(map[string]ocispec.Image)
	layers := make(map[string][]File)

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInspect, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if name == "manifest.json" {
			if err := json.NewDecoder(tr).Decode(&manifests); err != nil {
				return nil, fmt.Errorf("%w: manifest.json: %w", ErrInspect, err)
			}
			continue
		}

		br := bufio.NewReader(tr)
		magic, err := br.Peek(2)
		if err != nil {
			continue
		}

		switch {
		case magic[0] == 0x1f && magic[1] == 0x8b:
			gz, err := gzip.NewReader(br)
			if err != nil {
				continue
			}
			files, ok, err := scanLayer(tar.NewReader(gz))
			if err != nil {
				return nil, fmt.Errorf("%w: layer %s: %w", ErrInspect, name, err)
			}
			if ok {
				layers[name] = files
			}

		case magic[0] == '{':
			var img ocispec.Image
			if err := json.NewDecoder(br).Decode(&img); err != nil {
				continue
			}
			if img.RootFS.Type == "layers" {
				configs[name] = img
			}

		default:
			files, ok, err := scanLayer(tar.NewReader(br))
			if err != nil {
				return nil, fmt.Errorf("%w: layer %s: %w", ErrInspect, name, err)
			}
			if ok {
				layers[name] = files
			}
		}
	}

	switch {
	case len(manifests) == 0:
		return nil, fmt.Errorf("%w: archive has no manifest.json entry", ErrNoImage)
	case len(manifests) > 1:
		return nil, fmt.Errorf("%w: archive holds %d images", ErrMultipleImages, len(manifests))
	}

	m := manifests[0]
	cfg, ok := configs[strings.TrimPrefix(m.Config, "./")]
	if !ok {
		return nil, fmt.Errorf("%w: config %s not in archive", ErrNoImage, m.Config)
	}

	merged := make(map[string]File)
	for _, layer := range m.Layers {
		files, ok := layers[strings.TrimPrefix(layer, "./")]
		if !ok {
			return nil, fmt.Errorf("%w: layer %s not in archive", ErrNoImage, layer)
		}
		applyLayer(merged, files)
	}

	return &Image{Tags: m.RepoTags, Config: cfg.Config, Files: merged}, nil
}

// Collects file metadata from a layer tar. Returns ok=false when the
// stream is not a tar at all, so callers can skip unrelated blobs.
func scanLayer(tr *tar.Reader) ([]File, bool, error) {
	var files []File
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if len(files) == 0 {
				return nil, false, nil
			}
			return nil, false, err
		}
		files = append(files, File{
			Path: normalizePath(hdr.Name),
			Mode: hdr.Mode,
			UID:  hdr.Uid,
			GID:  hdr.Gid,
			Size: hdr.Size,
			Dir:  hdr.Typeflag == tar.TypeDir,
			Link: hdr.Linkname,
		})
	}
	return files, len(files) > 0, nil
}

// Applies one layer's entries over the merged view, honoring OCI
// whiteouts: a .wh.<name> entry deletes <name> from lower layers, and a
// .wh..wh..opq entry hides everything the lower layers placed in its
// directory.
func applyLayer(merged map[string]File, files []File) {
	for _, f := range files {
		base := path.Base(f.Path)
		dir := path.Dir(f.Path)

		switch {
		case base == opaqueMarker:
			removeTree(merged, dir)
		case strings.HasPrefix(base, whiteoutPrefix):
			target := path.Join(dir, strings.TrimPrefix(base, whiteoutPrefix))
			delete(merged, target)
			removeTree(merged, target)
		default:
			if !f.Dir {
				// A non-directory replacing a directory hides its contents.
				removeTree(merged, f.Path)
			}
			merged[f.Path] = f
		}
	}
}

// Removes every merged entry strictly under dir.
func removeTree(merged map[string]File, dir string) {
	prefix := dir + "/"
	if dir == "." || dir == "" {
		prefix = ""
	}
	for p := range merged {
		if strings.HasPrefix(p, prefix) {
			delete(merged, p)
		}
	}
}

// Normalizes a tar entry path to a slash-clean path relative to the
// image root.
func normalizePath(name string) string {
	return path.Clean(strings.TrimPrefix(name, "/"))
}

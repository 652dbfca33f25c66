package runtime

import (
	"slices"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

func TestApplyImageConfig(t *testing.T) {
	config := ocispec.Image{}
	config.Config.Env = []string{"PATH=/usr/bin", "LANG=C"}
	config.Config.Cmd = []string{"python3"}

	applyImageConfig(&config, ImageConfig{
		Entrypoint:   []string{"/usr/local/bin/kiln", "boot"},
		Env:          []string{"PATH=/opt/venv/bin:/usr/bin"},
		User:         "scribe",
		WorkingDir:   "/app",
		ExposedPorts: []string{"8000/tcp"},
	})

	if got := config.Config.Entrypoint; !slices.Equal(got, []string{"/usr/local/bin/kiln", "boot"}) {
		t.Errorf("Entrypoint = %v", got)
	}
	if config.Config.Cmd != nil {
		t.Errorf("Cmd = %v, want nil when entrypoint replaces it", config.Config.Cmd)
	}
	if config.Config.User != "scribe" {
		t.Errorf("User = %q, want scribe", config.Config.User)
	}
	if config.Config.WorkingDir != "/app" {
		t.Errorf("WorkingDir = %q, want /app", config.Config.WorkingDir)
	}
	if _, ok := config.Config.ExposedPorts["8000/tcp"]; !ok {
		t.Errorf("ExposedPorts = %v, want 8000/tcp present", config.Config.ExposedPorts)
	}

	if !slices.Contains(config.Config.Env, "PATH=/opt/venv/bin:/usr/bin") {
		t.Errorf("Env = %v, want overridden PATH", config.Config.Env)
	}
	if !slices.Contains(config.Config.Env, "LANG=C") {
		t.Errorf("Env = %v, want LANG carried over", config.Config.Env)
	}
}

func TestApplyImageConfigZeroValueIsNoop(t *testing.T) {
	config := ocispec.Image{}
	config.Config.Entrypoint = []string{"sh"}
	config.Config.Env = []string{"PATH=/usr/bin"}
	config.Config.User = "root"

	applyImageConfig(&config, ImageConfig{})

	if !slices.Equal(config.Config.Entrypoint, []string{"sh"}) {
		t.Errorf("Entrypoint changed: %v", config.Config.Entrypoint)
	}
	if !slices.Equal(config.Config.Env, []string{"PATH=/usr/bin"}) {
		t.Errorf("Env changed: %v", config.Config.Env)
	}
	if config.Config.User != "root" {
		t.Errorf("User changed: %q", config.Config.User)
	}
}

func TestManifestGCLabels(t *testing.T) {
	m := ocispec.Manifest{
		Config: ocispec.Descriptor{
			Digest: digest.FromString("config"),
		},
		Layers: []ocispec.Descriptor{
			{Digest: digest.FromString("layer0")},
			{Digest: digest.FromString("layer1")},
		},
	}

	labels := manifestGCLabels(m)

	configLabel := labels["containerd.io/gc.ref.content.config"]
	if configLabel != m.Config.Digest.String() {
		t.Fatalf("config label = %q, want %q", configLabel, m.Config.Digest.String())
	}

	for i, layer := range m.Layers {
		key := "containerd.io/gc.ref.content.l." + string(rune('0'+i))
		got := labels[key]
		if got != layer.Digest.String() {
			t.Fatalf("labels[%q] = %q, want %q", key, got, layer.Digest.String())
		}
	}

	if len(labels) != 3 {
		t.Fatalf("len(labels) = %d, want 3", len(labels))
	}
}

func TestIndexGCLabels(t *testing.T) {
	idx := ocispec.Index{
		Manifests: []ocispec.Descriptor{
			{Digest: digest.FromString("m0")},
		},
	}

	labels := indexGCLabels(idx)
	if len(labels) != 1 {
		t.Fatalf("len(labels) = %d, want 1", len(labels))
	}
	if labels["containerd.io/gc.ref.content.m.0"] != idx.Manifests[0].Digest.String() {
		t.Fatal("manifest label mismatch")
	}
}

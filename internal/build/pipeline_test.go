package build

import (
	"reflect"
	"strings"
	"testing"

	"github.com/kilnhq/kiln/internal/manifest"
)

func TestBootEntrypoint(t *testing.T) {
	boot := manifest.Boot{
		Migrate: []string{"kiln", "migrate", "--source", "/app/migrations"},
		Server:  []string{"uvicorn", "app.main:app", "--host", "0.0.0.0"},
		Port:    8000,
	}

	want := []string{
		"/usr/local/bin/kiln", "boot",
		"--port", "8000",
		"--migrate", "kiln migrate --source /app/migrations",
		"--",
		"uvicorn", "app.main:app", "--host", "0.0.0.0",
	}
	if got := bootEntrypoint(boot); !reflect.DeepEqual(got, want) {
		t.Fatalf("entrypoint = %v, want %v", got, want)
	}
}

func TestBootEntrypointNoMigrate(t *testing.T) {
	boot := manifest.Boot{
		Server: []string{"uvicorn", "app.main:app"},
		Port:   9000,
	}

	got := bootEntrypoint(boot)
	for _, arg := range got {
		if arg == "--migrate" {
			t.Fatalf("entrypoint includes --migrate without a migrate command: %v", got)
		}
	}

	want := []string{"/usr/local/bin/kiln", "boot", "--port", "9000", "--", "uvicorn", "app.main:app"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("entrypoint = %v, want %v", got, want)
	}
}

func TestPlatformSlug(t *testing.T) {
	tests := []struct {
		platform string
		want     string
	}{
		{"linux/amd64", "linux-amd64"},
		{"linux/arm64", "linux-arm64"},
		{"linux/arm/v7", "linux-arm-v7"},
	}

	for _, tt := range tests {
		if got := platformSlug(tt.platform); got != tt.want {
			t.Errorf("platformSlug(%q) = %q, want %q", tt.platform, got, tt.want)
		}
	}
}

func TestContainerID(t *testing.T) {
	p := &pipeline{resource: "scribe", session: "deadbeef"}

	got := p.containerID("builder", "linux/amd64")
	want := "scribe-linux-amd64-builder-deadbeef"
	if got != want {
		t.Fatalf("containerID = %q, want %q", got, want)
	}
}

func TestPlatformOutput(t *testing.T) {
	single := &pipeline{output: "dist", platforms: []string{"linux/amd64"}}
	if got := single.platformOutput("linux/amd64"); got != "dist" {
		t.Errorf("single platform output = %q, want dist", got)
	}

	multi := &pipeline{output: "dist", platforms: []string{"linux/amd64", "linux/arm64"}}
	if got := multi.platformOutput("linux/arm64"); !strings.HasSuffix(got, "linux-arm64") {
		t.Errorf("multi platform output = %q, want linux-arm64 suffix", got)
	}
}

func TestImageConfig(t *testing.T) {
	p := &pipeline{
		recipe: &manifest.Recipe{
			User: manifest.Principal{Name: "scribe", UID: 1000, GID: 1000},
			Boot: manifest.Boot{
				Migrate: []string{"kiln", "migrate"},
				Server:  []string{"uvicorn", "app.main:app"},
				Port:    8000,
			},
		},
	}

	state := newStepState()
	state.apply(manifest.Step{
		Workdir: "/app",
		Env:     map[string]string{"VIRTUAL_ENV": "/home/scribe/venv"},
	})

	cfg := p.imageConfig(state)

	if cfg.User != "scribe" {
		t.Errorf("User = %q, want scribe", cfg.User)
	}
	if cfg.WorkingDir != "/app" {
		t.Errorf("WorkingDir = %q, want /app", cfg.WorkingDir)
	}
	if want := []string{"8000/tcp"}; !reflect.DeepEqual(cfg.ExposedPorts, want) {
		t.Errorf("ExposedPorts = %v, want %v", cfg.ExposedPorts, want)
	}
	if want := []string{"VIRTUAL_ENV=/home/scribe/venv"}; !reflect.DeepEqual(cfg.Env, want) {
		t.Errorf("Env = %v, want %v", cfg.Env, want)
	}
	if len(cfg.Entrypoint) == 0 || cfg.Entrypoint[0] != toolDest {
		t.Errorf("Entrypoint = %v, want %s first", cfg.Entrypoint, toolDest)
	}
}

func TestRecipeFetches(t *testing.T) {
	without := &manifest.Recipe{Stages: []manifest.Stage{
		{Steps: []manifest.Step{{Run: "echo hi"}}},
	}}
	if recipeFetches(without) {
		t.Fatal("recipe without fetch reported as fetching")
	}

	nested := &manifest.Recipe{Stages: []manifest.Stage{
		{Steps: []manifest.Step{
			{Run: "echo hi"},
			{Steps: []manifest.Step{{Fetch: "/home/scribe/.cache/whisper"}}},
		}},
	}}
	if !recipeFetches(nested) {
		t.Fatal("nested fetch not detected")
	}
}

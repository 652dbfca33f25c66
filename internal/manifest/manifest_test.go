package manifest

import (
	"errors"
	"strings"
	"testing"
)

// A minimal valid manifest used as the base for mutation tests.
const validManifest = `
version: 1
name: scribe
model: tiny
user:
  name: scribe
  uid: 1000
boot:
  migrate: [kiln, migrate]
  server: [uvicorn, app.main:app]
stages:
  - name: builder
    from: docker.io/library/python:3.12-slim
    transient: true
    steps:
      - run: echo hi
  - name: runtime
    from: docker.io/library/python:3.12-slim
    steps:
      - copy: builder:/opt/venv /opt/venv
`

func TestParseValid(t *testing.T) {
	r, err := Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if r.Name != "scribe" {
		t.Errorf("Name = %q, want %q", r.Name, "scribe")
	}
	if r.Model != "tiny" {
		t.Errorf("Model = %q, want %q", r.Model, "tiny")
	}
	if len(r.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(r.Stages))
	}
	if !r.Stages[0].Transient || r.Stages[1].Transient {
		t.Error("expected first stage transient, last stage not")
	}
}

func TestParseDefaults(t *testing.T) {
	r, err := Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if r.User.GID != 1000 {
		t.Errorf("GID = %d, want UID default 1000", r.User.GID)
	}
	if r.User.Home != "/home/scribe" {
		t.Errorf("Home = %q, want /home/scribe", r.User.Home)
	}
	if r.Boot.Port != DefaultPort {
		t.Errorf("Port = %d, want default %d", r.Boot.Port, DefaultPort)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(string) string
		wantIn string
	}{
		{
			name:   "unsupported version",
			mutate: func(s string) string { return strings.Replace(s, "version: 1", "version: 2", 1) },
			wantIn: "unsupported version",
		},
		{
			name:   "root principal",
			mutate: func(s string) string { return strings.Replace(s, "uid: 1000", "uid: 0", 1) },
			wantIn: "non-root",
		},
		{
			name:   "bad resource name",
			mutate: func(s string) string { return strings.Replace(s, "name: scribe\n", "name: Bad Name\n", 1) },
			wantIn: "invalid name",
		},
		{
			name:   "missing migrate command",
			mutate: func(s string) string { return strings.Replace(s, "migrate: [kiln, migrate]", "migrate: []", 1) },
			wantIn: "migrate command",
		},
		{
			name:   "missing server command",
			mutate: func(s string) string { return strings.Replace(s, "server: [uvicorn, app.main:app]", "server: []", 1) },
			wantIn: "server command",
		},
		{
			name:   "unknown field",
			mutate: func(s string) string { return s + "\nbogus: true\n" },
			wantIn: "bogus",
		},
		{
			name: "transient final stage",
			mutate: func(s string) string {
				return strings.Replace(s, "from: docker.io/library/python:3.12-slim\n    steps:", "from: docker.io/library/python:3.12-slim\n    transient: true\n    steps:", 1)
			},
			wantIn: "last stage",
		},
		{
			name:   "duplicate stage names",
			mutate: func(s string) string { return strings.Replace(s, "name: runtime", "name: builder", 1) },
			wantIn: "duplicate",
		},
		{
			name:   "copy references unknown stage",
			mutate: func(s string) string { return strings.Replace(s, "builder:/opt/venv", "missing:/opt/venv", 1) },
			wantIn: "unknown stage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.mutate(validManifest)))
			if err == nil {
				t.Fatal("Parse succeeded, want error")
			}
			if !errors.Is(err, ErrManifest) {
				t.Errorf("error %v does not wrap ErrManifest", err)
			}
			if !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("error %q does not mention %q", err, tt.wantIn)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(nil)
	if !errors.Is(err, ErrManifest) {
		t.Fatalf("err = %v, want ErrManifest", err)
	}
}

func TestValidateStep(t *testing.T) {
	earlier := map[string]bool{"builder": true}

	tests := []struct {
		name    string
		step    Step
		wantErr bool
	}{
		{name: "run", step: Step{Run: "echo hi"}},
		{name: "copy", step: Step{Copy: "app app", Workdir: "/app"}},
		{name: "fetch", step: Step{Fetch: "/cache/whisper"}},
		{name: "standalone modifier", step: Step{Workdir: "/app"}},
		{name: "group", step: Step{Env: map[string]string{"A": "1"}, Steps: []Step{{Run: "echo"}}}},
		{name: "scoped user override", step: Step{Run: "install -d /app", User: "root"}},

		{name: "empty", step: Step{}, wantErr: true},
		{name: "two operations", step: Step{Run: "echo", Copy: "a b"}, wantErr: true},
		{name: "group with operation", step: Step{Run: "echo", Steps: []Step{{Run: "echo"}}}, wantErr: true},
		{name: "relative fetch", step: Step{Fetch: "cache"}, wantErr: true},
		{name: "relative workdir", step: Step{Workdir: "app"}, wantErr: true},
		{name: "copy missing dest", step: Step{Copy: "onlysrc"}, wantErr: true},
		{name: "unknown user", step: Step{Run: "echo", User: "stranger"}, wantErr: true},
		{name: "unknown stage in group", step: Step{Steps: []Step{{Copy: "ghost:/x /x"}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStep(tt.step, earlier, "scribe")
			if (err != nil) != tt.wantErr {
				t.Errorf("validateStep = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	r, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	if r.Name != "scribe" {
		t.Errorf("Name = %q, want scribe", r.Name)
	}
	if r.Model != "tiny" {
		t.Errorf("Model = %q, want tiny", r.Model)
	}
	if r.User.Name != "scribe" || r.User.UID != 1000 || r.User.GID != 1000 {
		t.Errorf("User = %+v, want scribe 1000:1000", r.User)
	}
	if r.Boot.Port != 8000 {
		t.Errorf("Port = %d, want 8000", r.Boot.Port)
	}
	if len(r.Boot.Migrate) == 0 || len(r.Boot.Server) == 0 {
		t.Error("boot commands must be set in the default manifest")
	}

	final := r.Final()
	if final == nil {
		t.Fatal("Final() = nil")
	}
	if final.Name != "runtime" {
		t.Errorf("Final().Name = %q, want runtime", final.Name)
	}
	if r.Stages[0].Name != "builder" || !r.Stages[0].Transient {
		t.Error("first stage should be the transient builder")
	}
}

func TestIdentity(t *testing.T) {
	p := Principal{Name: "scribe", UID: 1000, GID: 1001}
	if got := p.Identity(); got != "1000:1001" {
		t.Errorf("Identity() = %q, want 1000:1001", got)
	}
}

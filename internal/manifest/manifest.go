package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (

	// Manifest schema version understood by this build of the tool.
	Version = 1

	// Port assigned to the service when the manifest does not set one.
	DefaultPort = 8000
)

// Matches resource, stage, and principal names.
var nameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// A parsed build manifest.
//
// A recipe describes how to produce a service image: the stages to execute,
// the principal that owns the service's files and processes, the model size
// to pre-bake, and the boot contract baked into the image entrypoint.
type Recipe struct {
	Version int       `yaml:"version"`
	Name    string    `yaml:"name"`
	User    Principal `yaml:"user"`
	Model   string    `yaml:"model,omitempty"`
	Boot    Boot      `yaml:"boot"`
	Stages  []Stage   `yaml:"stages"`
}

// The non-root identity that owns service files and runs service processes.
//
// The principal is declared once at the recipe level and applied by the
// engine in every stage, so both build phases see the same name, UID, and
// GID. When gid is omitted it defaults to the UID; when home is omitted it
// defaults to /home/<name>.
type Principal struct {
	Name string `yaml:"name"`
	UID  int    `yaml:"uid"`
	GID  int    `yaml:"gid,omitempty"`
	Home string `yaml:"home,omitempty"`
}

// Returns the principal as a "uid:gid" string for process execution.
func (p Principal) Identity() string {
	return fmt.Sprintf("%d:%d", p.UID, p.GID)
}

// The startup contract baked into the image entrypoint.
//
// Migrate is the schema migration command that must succeed before the
// server starts. Server is the long-running server command. Port is the
// port exposed on the image.
type Boot struct {
	Migrate []string `yaml:"migrate"`
	Server  []string `yaml:"server"`
	Port    int      `yaml:"port,omitempty"`
}

// A single build stage.
//
// Transient stages exist only to produce files for later stages and are
// never exported. The last stage must not be transient; it becomes the
// output image.
type Stage struct {
	Name      string `yaml:"name"`
	From      string `yaml:"from"`
	Transient bool   `yaml:"transient,omitempty"`
	Steps     []Step `yaml:"steps"`
}

// A single entry in a stage's step list.
//
// A step is either an operation (run, copy, or fetch), a group of nested
// steps, or a standalone modifier. Modifiers on an operation step apply to
// that operation only; standalone modifiers persist for the rest of the
// stage. Groups may carry modifiers, which scope to the nested steps.
type Step struct {
	Run   string `yaml:"run,omitempty"`
	Copy  string `yaml:"copy,omitempty"`
	Fetch string `yaml:"fetch,omitempty"`

	Shell   string            `yaml:"shell,omitempty"`
	Workdir string            `yaml:"workdir,omitempty"`
	User    string            `yaml:"user,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	Steps []Step `yaml:"steps,omitempty"`
}

// Returns the number of operation fields set on the step.
func (s Step) operations() int {
	n := 0
	if s.Run != "" {
		n++
	}
	if s.Copy != "" {
		n++
	}
	if s.Fetch != "" {
		n++
	}
	return n
}

// Reports whether the step carries any modifier field.
func (s Step) hasModifiers() bool {
	return s.Shell != "" || s.Workdir != "" || s.User != "" || len(s.Env) > 0
}

// Parses and validates a manifest document.
//
// Unknown fields are rejected so that typos fail the build instead of being
// silently ignored. Defaults are filled in before validation.
func Parse(data []byte) (*Recipe, error) {
	var r Recipe

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrManifest)
		}
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}

	r.normalize()
	if err := r.Validate(); err != nil {
		return nil, err
	}

	return &r, nil
}

// Reads and parses a manifest file.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}

	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return r, nil
}

// Fills in derived defaults prior to validation.
func (r *Recipe) normalize() {
	if r.User.GID == 0 {
		r.User.GID = r.User.UID
	}
	if r.User.Home == "" && r.User.Name != "" {
		r.User.Home = "/home/" + r.User.Name
	}
	if r.Boot.Port == 0 {
		r.Boot.Port = DefaultPort
	}
}

// Checks the recipe against the manifest schema rules.
func (r *Recipe) Validate() error {
	if r.Version != Version {
		return fmt.Errorf("%w: unsupported version %d (want %d)", ErrManifest, r.Version, Version)
	}
	if !nameRE.MatchString(r.Name) {
		return fmt.Errorf("%w: invalid name %q", ErrManifest, r.Name)
	}

	if err := r.User.validate(); err != nil {
		return fmt.Errorf("%w: user: %w", ErrManifest, err)
	}
	if err := r.Boot.validate(); err != nil {
		return fmt.Errorf("%w: boot: %w", ErrManifest, err)
	}
	if err := r.validateStages(); err != nil {
		return fmt.Errorf("%w: %w", ErrManifest, err)
	}

	return nil
}

// Returns the stage that becomes the output image.
//
// Valid recipes have exactly one such stage, in last position.
func (r *Recipe) Final() *Stage {
	for i := range r.Stages {
		if !r.Stages[i].Transient {
			return &r.Stages[i]
		}
	}
	return nil
}

func (p Principal) validate() error {
	if !nameRE.MatchString(p.Name) {
		return fmt.Errorf("invalid principal name %q", p.Name)
	}
	if p.UID <= 0 {
		return fmt.Errorf("uid must be a positive non-root ID, got %d", p.UID)
	}
	if p.GID <= 0 {
		return fmt.Errorf("gid must be a positive non-root ID, got %d", p.GID)
	}
	if !filepath.IsAbs(p.Home) {
		return fmt.Errorf("home %q must be absolute", p.Home)
	}
	return nil
}

func (b Boot) validate() error {
	if len(b.Migrate) == 0 {
		return errors.New("migrate command is required")
	}
	if len(b.Server) == 0 {
		return errors.New("server command is required")
	}
	if b.Port < 1 || b.Port > 65535 {
		return fmt.Errorf("port %d out of range", b.Port)
	}
	return nil
}

func (r *Recipe) validateStages() error {
	if len(r.Stages) == 0 {
		return errors.New("at least one stage is required")
	}

	seen := make(map[string]bool, len(r.Stages))
	for i, stage := range r.Stages {
		if !nameRE.MatchString(stage.Name) {
			return fmt.Errorf("stage %d: invalid name %q", i+1, stage.Name)
		}
		if seen[stage.Name] {
			return fmt.Errorf("stage %q: duplicate name", stage.Name)
		}
		if stage.From == "" {
			return fmt.Errorf("stage %q: missing base image", stage.Name)
		}

		last := i == len(r.Stages)-1
		if last && stage.Transient {
			return fmt.Errorf("stage %q: last stage must not be transient", stage.Name)
		}
		if !last && !stage.Transient {
			return fmt.Errorf("stage %q: only the last stage may be non-transient", stage.Name)
		}

		for j, step := range stage.Steps {
			if err := validateStep(step, seen, r.User.Name); err != nil {
				return fmt.Errorf("stage %q step %d: %w", stage.Name, j+1, err)
			}
		}

		seen[stage.Name] = true
	}

	return nil
}

// Validates a step recursively.
//
// earlier holds the names of stages declared before the current one, which
// are the only legal targets for cross-stage copy sources.
func validateStep(step Step, earlier map[string]bool, principal string) error {
	ops := step.operations()

	if len(step.Steps) > 0 {
		if ops > 0 {
			return errors.New("a group cannot also carry an operation")
		}
		for i, nested := range step.Steps {
			if err := validateStep(nested, earlier, principal); err != nil {
				return fmt.Errorf("nested step %d: %w", i+1, err)
			}
		}
		return validateModifiers(step, principal)
	}

	switch {
	case ops > 1:
		return errors.New("a step may carry only one of run, copy, or fetch")
	case ops == 0 && !step.hasModifiers():
		return errors.New("empty step")
	}

	if step.Copy != "" {
		if err := validateCopy(step.Copy, earlier); err != nil {
			return err
		}
	}
	if step.Fetch != "" && !strings.HasPrefix(step.Fetch, "/") {
		return fmt.Errorf("fetch destination %q must be absolute", step.Fetch)
	}

	return validateModifiers(step, principal)
}

func validateModifiers(step Step, principal string) error {
	if step.User != "" && step.User != "root" && step.User != principal {
		return fmt.Errorf("user %q is neither root nor the declared principal", step.User)
	}
	if step.Workdir != "" && !strings.HasPrefix(step.Workdir, "/") {
		return fmt.Errorf("workdir %q must be absolute", step.Workdir)
	}
	return nil
}

func validateCopy(s string, earlier map[string]bool) error {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return fmt.Errorf("copy %q must have a source and a destination", s)
	}

	src := parts[0]
	if i := strings.IndexByte(src, ':'); i > 0 && !strings.ContainsRune(src[:i], '/') {
		if !earlier[src[:i]] {
			return fmt.Errorf("copy source references unknown stage %q", src[:i])
		}
	}

	return nil
}

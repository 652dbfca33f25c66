package build

import (
	"maps"
	"sort"

	"github.com/kilnhq/kiln/internal/manifest"
)

// Default shell used for run steps when no shell modifier has been set.
const defaultShell = "/bin/sh"

// Tracks accumulated modifiers during step planning.
//
// State flows linearly through the step list. Standalone modifiers update
// the state permanently via apply. Operations read the effective values for
// a single step via resolve without modifying the persistent state. Group
// modifiers scope to the group: the planner clones the state before
// descending.
type stepState struct {
	shell   string
	workdir string
	user    string // Principal name or "root"; empty means the container default.
	env     map[string]string
}

// Creates a new [stepState] with default values.
func newStepState() *stepState {
	return &stepState{
		shell: defaultShell,
		env:   make(map[string]string),
	}
}

// Returns a deep copy of the state, used to scope group modifiers.
func (s *stepState) clone() *stepState {
	c := &stepState{
		shell:   s.shell,
		workdir: s.workdir,
		user:    s.user,
		env:     make(map[string]string, len(s.env)),
	}
	maps.Copy(c.env, s.env)
	return c
}

// Persists modifier fields from a step into the state.
//
// Called for standalone modifier steps and for groups (on a clone). The
// receiver is mutated permanently, affecting all subsequent steps planned
// against it.
func (s *stepState) apply(step manifest.Step) {
	if step.Shell != "" {
		s.shell = step.Shell
	}
	if step.Workdir != "" {
		s.workdir = step.Workdir
	}
	if step.User != "" {
		s.user = step.User
	}
	maps.Copy(s.env, step.Env)
}

// Returns a new [stepState] with step-level modifiers overlaid on the
// persistent state. The receiver is not modified.
//
// Step-level modifiers override the corresponding state values for this
// operation only.
func (s *stepState) resolve(step manifest.Step) *stepState {
	resolved := s.clone()
	resolved.env = make(map[string]string, len(s.env)+len(step.Env))
	maps.Copy(resolved.env, s.env)
	maps.Copy(resolved.env, step.Env)

	if step.Shell != "" {
		resolved.shell = step.Shell
	}
	if step.Workdir != "" {
		resolved.workdir = step.Workdir
	}
	if step.User != "" {
		resolved.user = step.User
	}

	return resolved
}

// Formats the environment as a list of "key=value" strings suitable for
// passing to container exec, in stable order.
func (s *stepState) environ() []string {
	env := make([]string, 0, len(s.env))
	for k, v := range s.env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

package build

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/fetch"
	"github.com/kilnhq/kiln/internal/manifest"
)

// Path where the orchestrator binary is installed in the output image.
const toolDest = "/usr/local/bin/kiln"

// Kinds of planned operations.
//
// Beyond the manifest's run, copy, and fetch operations, the planner
// synthesizes two engine steps: principal creation at the start of every
// stage, and installation of the orchestrator binary (the image entrypoint)
// at the end of the exported stage.
type opKind int

const (
	opRun opKind = iota
	opCopy
	opFetch
	opEnsureUser
	opInstallTool
)

// A single operation in a stage's execution plan.
//
// The key is cumulative: it digests the parent key together with the
// operation's canonical encoding, so it identifies the full filesystem
// state after the operation completes. Two plans share a key prefix
// exactly when they share base image, platform, principal, and every
// preceding operation with identical inputs.
type planned struct {
	kind  opKind
	step  manifest.Step
	state *stepState
	key   digest.Digest
	desc  string
}

// Inputs that feed the planner and its cache keys.
type planContext struct {
	root      string                   // Build context for resolving host copy sources.
	user      manifest.Principal       // Principal created in every stage.
	model     fetch.Model              // Model artifact for fetch operations.
	tool      digest.Digest            // Digest of the orchestrator binary.
	stageKeys map[string]digest.Digest // Final keys of earlier stages, for cross-stage copies.
}

// Computes the execution plan for a stage.
//
// Every operation is resolved against the accumulated modifier state and
// assigned its cumulative cache key. The returned state is the modifier
// state after the last step, which supplies the exported image's env and
// working directory.
func planStage(stage manifest.Stage, platform string, base digest.Digest, pctx planContext) ([]planned, *stepState, error) {
	seed := chain("", "stage", base.String(), platform)

	plan := []planned{{
		kind:  opEnsureUser,
		state: newStepState(),
		key: chain(seed, "user",
			pctx.user.Name,
			strconv.Itoa(pctx.user.UID),
			strconv.Itoa(pctx.user.GID),
			pctx.user.Home,
		),
		desc: "create principal " + pctx.user.Name,
	}}

	state := newStepState()
	if err := planSteps(&plan, stage.Steps, state, pctx); err != nil {
		return nil, nil, err
	}

	if !stage.Transient {
		plan = append(plan, planned{
			kind:  opInstallTool,
			state: state.clone(),
			key:   chain(plan[len(plan)-1].key, "tool", pctx.tool.String(), toolDest),
			desc:  "install boot sequencer",
		})
	}

	return plan, state, nil
}

// Plans a step list, appending operations to plan and threading state.
//
// Groups are planned against a clone of the state so their modifiers do
// not leak past the group. Standalone modifiers mutate the state and
// produce no plan entry.
func planSteps(plan *[]planned, steps []manifest.Step, state *stepState, pctx planContext) error {
	for _, step := range steps {
		if len(step.Steps) > 0 {
			scoped := state.clone()
			scoped.apply(step)
			if err := planSteps(plan, step.Steps, scoped, pctx); err != nil {
				return err
			}
			continue
		}

		hasOp := step.Run != "" || step.Copy != "" || step.Fetch != ""
		if !hasOp {
			state.apply(step)
			continue
		}

		resolved := state.resolve(step)
		parent := (*plan)[len(*plan)-1].key

		p, err := planOp(step, resolved, parent, pctx)
		if err != nil {
			return err
		}
		*plan = append(*plan, p)
	}

	return nil
}

// Plans a single operation and computes its cumulative key.
func planOp(step manifest.Step, resolved *stepState, parent digest.Digest, pctx planContext) (planned, error) {
	env := strings.Join(resolved.environ(), "\x01")

	switch {
	case step.Run != "":
		return planned{
			kind:  opRun,
			step:  step,
			state: resolved,
			key:   chain(parent, "run", resolved.shell, resolved.workdir, resolved.user, env, step.Run),
			desc:  "run: " + truncate(step.Run, 64),
		}, nil

	case step.Copy != "":
		src, dest, err := parseCopy(step.Copy, resolved.workdir)
		if err != nil {
			return planned{}, fmt.Errorf("%w: %w", ErrCopy, err)
		}

		if stageName, path, ok := parseStageCopy(src); ok {
			stageKey, ok := pctx.stageKeys[stageName]
			if !ok {
				return planned{}, fmt.Errorf("%w: unknown stage %q", ErrCopy, stageName)
			}
			return planned{
				kind:  opCopy,
				step:  step,
				state: resolved,
				key:   chain(parent, "copy-stage", stageKey.String(), path, dest),
				desc:  "copy: " + step.Copy,
			}, nil
		}

		content, err := digestPath(pctx.root, src)
		if err != nil {
			return planned{}, fmt.Errorf("%w: %s: %w", ErrCopy, src, err)
		}
		return planned{
			kind:  opCopy,
			step:  step,
			state: resolved,
			key:   chain(parent, "copy", src, dest, content.String()),
			desc:  "copy: " + step.Copy,
		}, nil

	case step.Fetch != "":
		return planned{
			kind:  opFetch,
			step:  step,
			state: resolved,
			key:   chain(parent, "fetch", pctx.model.Digest.String(), step.Fetch),
			desc:  "fetch: " + pctx.model.Size + " -> " + step.Fetch,
		}, nil
	}

	return planned{}, fmt.Errorf("%w: step has no operation", ErrBuild)
}

// Extends a cache key with the canonical encoding of an operation.
//
// Parts are joined with NUL separators so that no concatenation of
// different parts can collide with another encoding.
func chain(parent digest.Digest, parts ...string) digest.Digest {
	d := digest.Canonical.Digester()
	h := d.Hash()

	io.WriteString(h, parent.String())
	for _, part := range parts {
		h.Write([]byte{0})
		io.WriteString(h, part)
	}

	return d.Digest()
}

// Hashes the content of a host file or directory tree.
//
// Directories are walked in lexical order; each entry contributes its
// relative path, mode, and content (or symlink target). The digest changes
// whenever any file under the path changes, which invalidates the copy
// operation's cache key.
func digestPath(root, src string) (digest.Digest, error) {
	path := src
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, src)
	}

	info, err := os.Lstat(path)
	if err != nil {
		return "", err
	}

	d := digest.Canonical.Digester()
	h := d.Hash()

	if !info.IsDir() {
		if err := digestEntry(h, path, filepath.Base(path), info); err != nil {
			return "", err
		}
		return d.Digest(), nil
	}

	err = filepath.WalkDir(path, func(entry string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(path, entry)
		if err != nil {
			return err
		}
		info, err := de.Info()
		if err != nil {
			return err
		}
		return digestEntry(h, entry, filepath.ToSlash(rel), info)
	})
	if err != nil {
		return "", err
	}

	return d.Digest(), nil
}

// Writes one filesystem entry into a content hash.
func digestEntry(h io.Writer, path, name string, info fs.FileInfo) error {
	fmt.Fprintf(h, "%s\x00%o\x00", name, info.Mode())

	switch {
	case info.Mode().IsRegular():
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}

	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		io.WriteString(h, target)
	}

	return nil
}

// Shortens a command for log output.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

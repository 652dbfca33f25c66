package inspect

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/kilnhq/kiln/internal"
	"github.com/kilnhq/kiln/internal/manifest"
)

// Directories searched when checking for executables.
var binDirs = []string{"bin", "sbin", "usr/bin", "usr/sbin", "usr/local/bin"}

// Compiler toolchain binaries that must not ship in a final image.
var toolchainBinaries = []string{"gcc", "g++", "cc", "c++", "make"}

// Media decoder the transcription service shells out to at runtime.
const mediaBinary = "ffmpeg"

// A failed verification check.
type Problem struct {
	Check  string
	Detail string
}

func (p Problem) String() string {
	return p.Check + ": " + p.Detail
}

// Checks a built image against the recipe that produced it and the
// model size it was built for.
//
// Returns one problem per failed check; an empty result means the image
// satisfies its runtime contract: exactly the requested model artifact
// in the principal's cache, runtime dependencies present without the
// build toolchain, working directory owned by the principal, and a
// runtime config that launches the service as the principal on its
// declared port.
func Verify(img *Image, recipe *manifest.Recipe, size string) []Problem {
	var problems []Problem
	problems = append(problems, checkModel(img, recipe.User, size)...)
	problems = append(problems, checkBinaries(img)...)
	problems = append(problems, checkOwnership(img, recipe.User)...)
	problems = append(problems, checkConfig(img, recipe)...)
	return problems
}

// Verifies that the principal's model cache holds the requested
// artifact, owned by the principal, and nothing else.
func checkModel(img *Image, user manifest.Principal, size string) []Problem {
	cacheDir := normalizePath(path.Join(user.Home, ".cache", "whisper"))
	want := size + ".pt"

	var problems []Problem
	found := false

	for _, p := range sortedPaths(img) {
		f := img.Files[p]
		if f.Dir || path.Dir(p) != cacheDir {
			continue
		}
		if path.Base(p) != want {
			problems = append(problems, Problem{
				Check:  "model artifact",
				Detail: fmt.Sprintf("unexpected file %s in model cache, want only %s", path.Base(p), want),
			})
			continue
		}
		found = true
		if f.UID != user.UID || f.GID != user.GID {
			problems = append(problems, Problem{
				Check:  "model artifact",
				Detail: fmt.Sprintf("%s owned by %d:%d, want %d:%d", want, f.UID, f.GID, user.UID, user.GID),
			})
		}
		if f.Size == 0 {
			problems = append(problems, Problem{
				Check:  "model artifact",
				Detail: want + " is empty",
			})
		}
	}

	if !found {
		problems = append(problems, Problem{
			Check:  "model artifact",
			Detail: fmt.Sprintf("%s missing from /%s", want, cacheDir),
		})
	}

	return problems
}

// Verifies that the runtime media dependency survived the build and
// that no compiler toolchain leaked into the final image.
func checkBinaries(img *Image) []Problem {
	var problems []Problem

	for _, name := range toolchainBinaries {
		if p, ok := findBinary(img, name); ok {
			problems = append(problems, Problem{
				Check:  "toolchain",
				Detail: fmt.Sprintf("build tool %s present in final image", p),
			})
		}
	}

	if _, ok := findBinary(img, mediaBinary); !ok {
		problems = append(problems, Problem{
			Check:  "media dependency",
			Detail: mediaBinary + " not found in final image",
		})
	}

	return problems
}

func findBinary(img *Image, name string) (string, bool) {
	for _, dir := range binDirs {
		p := dir + "/" + name
		if f, ok := img.Files[p]; ok && !f.Dir {
			return "/" + p, true
		}
	}
	return "", false
}

// Verifies that everything under the image's working directory belongs
// to the principal, so the service can write where it runs.
func checkOwnership(img *Image, user manifest.Principal) []Problem {
	if img.Config.WorkingDir == "" {
		return nil
	}
	workdir := normalizePath(img.Config.WorkingDir)

	var problems []Problem
	for _, p := range sortedPaths(img) {
		if p != workdir && !strings.HasPrefix(p, workdir+"/") {
			continue
		}
		f := img.Files[p]
		if f.UID != user.UID || f.GID != user.GID {
			problems = append(problems, Problem{
				Check:  "ownership",
				Detail: fmt.Sprintf("/%s owned by %d:%d, want %d:%d", p, f.UID, f.GID, user.UID, user.GID),
			})
		}
	}

	return problems
}

// Verifies the runtime config: the image runs as the principal, boots
// through the orchestrator, and declares the service port.
func checkConfig(img *Image, recipe *manifest.Recipe) []Problem {
	var problems []Problem

	if img.Config.User != recipe.User.Name {
		problems = append(problems, Problem{
			Check:  "user",
			Detail: fmt.Sprintf("config user %q, want %q", img.Config.User, recipe.User.Name),
		})
	}

	if len(img.Config.Entrypoint) == 0 {
		problems = append(problems, Problem{
			Check:  "entrypoint",
			Detail: "no entrypoint declared",
		})
	} else if path.Base(img.Config.Entrypoint[0]) != internal.Name {
		problems = append(problems, Problem{
			Check:  "entrypoint",
			Detail: fmt.Sprintf("entrypoint %q does not boot through %s", img.Config.Entrypoint[0], internal.Name),
		})
	}

	port := fmt.Sprintf("%d/tcp", recipe.Boot.Port)
	if _, ok := img.Config.ExposedPorts[port]; !ok {
		problems = append(problems, Problem{
			Check:  "port",
			Detail: fmt.Sprintf("port %s not exposed", port),
		})
	}

	return problems
}

func sortedPaths(img *Image) []string {
	paths := make([]string, 0, len(img.Files))
	for p := range img.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Package build orchestrates recipe execution against container runtimes.
//
// A recipe is an ordered sequence of stages, each backed by a container
// created from a base image. Before a stage runs, the planner resolves
// every operation against the accumulated modifier state and assigns it a
// cumulative cache key covering the base image, the platform, the
// principal, and every preceding operation's inputs. Completed operations
// are committed to the layer store as checkpoints; a later build resumes
// from the deepest checkpoint whose key still matches the plan and
// executes only the remaining operations.
//
// Beyond the manifest's run, copy, and fetch operations, the pipeline
// synthesizes two engine steps: principal creation at the start of every
// stage, and installation of the orchestrator binary at the end of the
// exported stage. The final image carries an entrypoint that boots the
// service through the orchestrator's migration gate.
//
// Container operations are delegated to the runtime package. Step state
// (environment variables, working directory, user, shell) is accumulated
// across steps within a stage and reset between stages.
//
// Example usage:
//
//	result, err := build.Run(ctx, rt, build.Options{
//	    Recipe: recipe,
//	    Output: "dist",
//	    Root:   ".",
//	})
//	if err != nil {
//	    return err
//	}
package build

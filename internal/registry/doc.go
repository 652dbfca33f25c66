// Resolves stage base references to local OCI archives.
//
// A base may be a registry reference (pulled and cached by manifest digest
// under the XDG data directory) or a path to an archive produced by an
// earlier build. Either way the build engine receives a local file it can
// hand to the container runtime, plus a digest that seeds the layer cache
// key chain.
package registry

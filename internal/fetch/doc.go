// Downloads and caches speech model artifacts.
//
// The catalog maps model size names to their published URLs and SHA-256
// digests. The fetch step of a build pulls the selected artifact through a
// host-level cache so the model is baked into the image at build time, and
// the service never downloads it at startup. Every artifact is verified
// against its catalog digest, both after download and on every cache hit.
package fetch

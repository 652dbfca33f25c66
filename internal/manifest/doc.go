// Defines the build manifest schema and its parser.
//
// A manifest (by convention kiln.yaml in the project root) declares the
// stages of an image build, the non-root principal that owns the service,
// the model size to pre-bake, and the boot contract for the produced image.
// A built-in manifest for the speech transcription service is embedded in
// the binary and used when no file is given.
package manifest

package manifest

import _ "embed"

// The recipe compiled into the binary, used when no manifest file is given.
//
//go:embed kiln.yaml
var defaultManifest []byte

// Returns the built-in recipe for the speech transcription service.
func Default() (*Recipe, error) {
	return Parse(defaultManifest)
}

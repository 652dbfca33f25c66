package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	toolName = "kiln"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for persistent build state.
//
//	Linux:   $XDG_DATA_HOME/kiln or ~/.local/share/kiln
//	macOS:   ~/Library/Application Support/kiln
func Data() string {
	return filepath.Join(xdg.DataHome, toolName)
}

// Path to the layer checkpoint store.
//
// Each completed build step is committed here as an image archive keyed by
// its cumulative step digest, so later builds can resume from the longest
// unchanged prefix.
//
//	Linux:   $XDG_DATA_HOME/kiln/layers
func Layers() string {
	return filepath.Join(Data(), "layers")
}

// Path to the base image cache.
//
// Base images pulled from a registry are stored here as archives keyed by
// their manifest digest, so repeated builds skip the network round trip.
//
//	Linux:   $XDG_DATA_HOME/kiln/bases
func Bases() string {
	return filepath.Join(Data(), "bases")
}

// Path to the directory for re-downloadable cached data.
//
//	Linux:   $XDG_CACHE_HOME/kiln or ~/.cache/kiln
//	macOS:   ~/Library/Caches/kiln
func Cache() string {
	return filepath.Join(xdg.CacheHome, toolName)
}

// Path to the model artifact cache.
//
// Model files downloaded by the fetch step are stored here keyed by size
// name, with their digests verified before every use.
//
//	Linux:   $XDG_CACHE_HOME/kiln/models
func Models() string {
	return filepath.Join(Cache(), "models")
}

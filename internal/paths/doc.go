// Provides platform-appropriate paths for build state.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS and Windows. The tool name "kiln" is used as the subdirectory
// under each base path. The data directory holds the layer checkpoint
// store, the base image cache, and the model artifact cache.
package paths

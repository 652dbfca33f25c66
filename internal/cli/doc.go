// Defines the kiln command-line interface.
//
// Each subcommand is a struct with a Run method, dispatched by kong. The
// root command carries the global flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	    --log-json  Emit log records as JSON.
//
// Flags override build-time defaults set via linker flags. After parsing,
// the global logger is reconfigured to reflect the final level and mode
// before the selected subcommand runs.
package cli

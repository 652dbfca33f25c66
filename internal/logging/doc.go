// Provides slog handlers for terminal and machine-readable output.
//
// The CLI handler renders one-line records intended for a human watching a
// build or boot sequence. The JSON handler wraps the standard library JSON
// handler for log collectors. The active handler is chosen by CLI flags at
// startup.
package logging

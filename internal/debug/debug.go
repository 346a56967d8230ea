// Package debug gates the chatty per-frame and per-timer log lines.
package debug

import (
	"log"
	"sync/atomic"
)

var verbose atomic.Bool

// SetVerbose enables or disables verbose logging process-wide.
func SetVerbose(on bool) {
	verbose.Store(on)
}

// Verbose reports whether verbose logging is enabled.
func Verbose() bool {
	return verbose.Load()
}

// Printf logs through the standard logger when verbose logging is enabled.
func Printf(format string, args ...any) {
	if verbose.Load() {
		log.Printf(format, args...)
	}
}

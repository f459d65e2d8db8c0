// Package monitoring carries the node's diagnostic logging seam. The capture
// loop and the HTTP middleware log through Logf so tests can mute the output
// and field builds can redirect it without threading a logger everywhere.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf;
// replace it with SetLogger to redirect or silence diagnostics.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op, which
// is how tests keep grab-retry and send-error noise out of their output.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Package preflight checks that a ragkb installation can run before any
// document is stored: the configuration validates, the data directory is
// writable with enough free space, nothing else holds it, and the configured
// embedding provider answers with vectors of the expected width.
//
//	checker := preflight.New(cfg)
//	results := checker.RunAll(ctx)
//	if preflight.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight

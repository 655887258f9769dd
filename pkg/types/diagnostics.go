package types

import (
	"fmt"
	"os"
)

// -----------------------------------------------------------------------------
// Diagnostic hooks
// -----------------------------------------------------------------------------
//
// The collector has no caller to hand a recoverable failure back to once a
// cycle is running, so the unrecoverable paths (heap corruption, invariant
// violations) go through these package-level hooks instead of error
// returns. The defaults panic; test harnesses replace them to observe the
// failure without tearing the process down.

// Fatalf reports an unrecoverable condition (for example a reference that
// fails validity checks mid-trace, indicating heap corruption). The default
// implementation panics with the formatted message.
var Fatalf = func(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}

// Ensuref reports a should-never-happen condition that the collector can
// limp past, such as the destruction pipeline making no progress for an
// extended period. The default implementation writes the formatted message
// to stderr and keeps going; it returns cond so call sites can branch.
var Ensuref = func(cond bool, format string, args ...any) bool {
	if !cond {
		fmt.Fprintf(os.Stderr, "ensure failed: "+format+"\n", args...)
	}
	return cond
}

// Package testutil provides shared testing utilities for the ragcache
// project.
//
// This package contains reusable test infrastructure used across multiple
// packages, following the pattern of Go standard library packages like
// net/http/httptest and testing/iotest.
package testutil

import (
	"log/slog"
)

// DiscardLogger returns a slog.Logger that discards all output.
//
// Use this in tests to reduce noise. log.Logger is a type alias for
// *slog.Logger, so this is interchangeable with log.NewNop().
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

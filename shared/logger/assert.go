package logger

import (
	"log/slog"
	"os"
)

// StrictAsserts makes Unexpected panic after logging. It is read from the
// LOG_STRICT_ASSERTS environment variable at startup and is meant for
// development and test runs, never production.
var StrictAsserts = os.Getenv("LOG_STRICT_ASSERTS") != ""

// Unexpected records an error that indicates a bug rather than expected
// weather such as network flakiness or a user canceling. It logs at error
// level and, in strict-assert mode, panics so the bug surfaces immediately.
func Unexpected(l *slog.Logger, msg string, args ...any) {
	l.Error(msg, args...)
	if StrictAsserts {
		panic("unexpected failure: " + msg)
	}
}

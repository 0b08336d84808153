package logger

import (
	"log/slog"
	"os"
)

// Fatal logs msg on the default logger and exits non-zero. Reserved for
// startup failures (bind, fork) where there is nothing to unwind; the
// request path never calls this.
func Fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

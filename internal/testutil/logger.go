package testutil

import (
	"log/slog"
	"testing"

	"github.com/parityleague/league/internal/log"
)

// NewLogger returns a debug-level logger writing through t.Log, so output is
// attached to the failing test instead of polluting the run.
func NewLogger(t *testing.T) log.Logger {
	t.Helper()
	return log.NewWithWriter(testWriter{t}, log.Config{Level: slog.LevelDebug})
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

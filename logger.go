package ggstream

import (
	"log/slog"
	"sync/atomic"
)

// logger holds the process-wide logger. The render loop, workers and
// registry read it on every event, so it is swapped atomically.
var logger atomic.Pointer[slog.Logger]

var discard = slog.New(slog.DiscardHandler)

func init() {
	logger.Store(discard)
}

// SetLogger installs l as the logger of ggstream and all its
// sub-packages. Nil restores the default, which discards everything.
//
// Messages are prefixed with the package that logs them ("loop: ",
// "scene: ", "asset: ", ...) and use these levels:
//   - [slog.LevelDebug]: per-tick diagnostics (dropped ticks, inline renders, asset loads)
//   - [slog.LevelInfo]: lifecycle (loop start and stop, registry restored)
//   - [slog.LevelWarn]: absorbed errors (render and persistence failures, worker respawns)
//
// The daemon writes frames to stdout, so it logs to stderr:
//
//	ggstream.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = discard
	}
	logger.Store(l)
}

// Logger returns the logger set by SetLogger.
func Logger() *slog.Logger {
	return logger.Load()
}

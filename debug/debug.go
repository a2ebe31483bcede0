// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go - Cold-path diagnostic logging for the litmus harness
//
// Purpose:
//   - Logs setup milestones, worker lifecycle and run outcomes.
//   - Keeps the DropMessage/DropError call shape used across packages.
//
// Notes:
//   - Backed by a zerolog logger writing to stderr.
//   - Info level by default; DropTrace output needs SetLevel(DebugLevel).
//   - Never called between the reader's two loads: the reader buffers its
//     trace and flushes it after unlocking.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var logger atomic.Pointer[zerolog.Logger]

func init() {
	SetOutput(os.Stderr)
}

// SetOutput replaces the destination of all diagnostics. A console writer
// is used for terminals and files alike so lines stay human readable.
func SetOutput(w io.Writer) {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMicro, NoColor: true}
	l := zerolog.New(cw).With().Timestamp().Logger()
	if cur := logger.Load(); cur != nil {
		l = l.Level(cur.GetLevel())
	} else {
		l = l.Level(zerolog.InfoLevel)
	}
	logger.Store(&l)
}

// SetLevel sets the minimum level that is emitted.
func SetLevel(level zerolog.Level) {
	l := logger.Load().Level(level)
	logger.Store(&l)
}

// Log returns the shared logger for structured events.
func Log() *zerolog.Logger {
	return logger.Load()
}

// DropError logs err under prefix. A nil err logs the prefix alone as a
// warning tag.
func DropError(prefix string, err error) {
	l := logger.Load()
	if err != nil {
		l.Error().Err(err).Msg(prefix)
		return
	}
	l.Warn().Msg(prefix)
}

// DropMessage logs an informational message under prefix.
func DropMessage(prefix, message string) {
	logger.Load().Info().Str("tag", prefix).Msg(message)
}

// DropTrace logs a debug-level message; suppressed unless the level is
// lowered with SetLevel.
func DropTrace(prefix, message string) {
	logger.Load().Debug().Str("tag", prefix).Msg(message)
}

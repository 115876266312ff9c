package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (session result, distribution status)
	LevelLive    = 2 // Live info (countdown ticks, state changes)
	LevelVerbose = 3 // Verbose (fit geometry, file paths)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

// slog levels for the booth tiers that have no stdlib equivalent.
const (
	slogLive  = slog.LevelInfo - 1
	slogTrace = slog.LevelDebug - 4
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger *slog.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (session result, distribution)
// 2 = live info (countdown, state changes)
// 3 = verbose (geometry, paths, steps)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	logger = nil
	if level > LevelOff {
		logger = newLogger(out)
	}
}

// SetOutput redirects all debug output, e.g. to tee it into the SSE stream.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	if logger != nil {
		logger = newLogger(w)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slogTrace,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey {
				return a
			}
			switch a.Value.Any().(slog.Level) {
			case slogLive:
				return slog.String(slog.LevelKey, "LIVE")
			case slogTrace:
				return slog.String(slog.LevelKey, "TRACE")
			}
			return a
		},
	})
	return slog.New(h).With("app", "boothframe")
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func emit(minLevel int, lvl slog.Level, msg string, attrs ...any) {
	mu.RLock()
	l, cur := logger, level
	mu.RUnlock()
	if l == nil || cur < minLevel {
		return
	}
	l.Log(context.Background(), lvl, msg, attrs...)
}

// --- Level 1 functions (Info) ---

// Info prints a level 1 message (important info).
func Info(format string, args ...any) {
	emit(LevelInfo, slog.LevelInfo, fmt.Sprintf(format, args...))
}

// Warn prints a degraded-but-continuing condition (level 1).
func Warn(format string, args ...any) {
	emit(LevelInfo, slog.LevelWarn, fmt.Sprintf(format, args...))
}

// Summary prints an important summary banner (level 1).
func Summary(title string) {
	emit(LevelInfo, slog.LevelInfo, "═══ "+title+" ═══")
}

// Value prints a named value (level 1).
func Value(name string, value any) {
	emit(LevelInfo, slog.LevelInfo, name, "value", value)
}

// Error prints a debug error (level 1+).
func Error(err error) {
	emit(LevelInfo, slog.LevelError, "error", "err", err)
}

// --- Level 2 functions (Live) ---

// Live prints a level 2 message (live info).
func Live(format string, args ...any) {
	emit(LevelLive, slogLive, fmt.Sprintf(format, args...))
}

// Tick prints one countdown second (level 2).
func Tick(sessionID string, remaining int) {
	emit(LevelLive, slogLive, fmt.Sprintf("Capturing photo in %02d second(s)", remaining), "session", sessionID)
}

// State prints a session state change (level 2).
func State(sessionID, state string) {
	emit(LevelLive, slogLive, "session state", "session", sessionID, "state", state)
}

// --- Level 3 functions (Verbose) ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...any) {
	emit(LevelVerbose, slog.LevelDebug, fmt.Sprintf(format, args...))
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v any) {
	emit(LevelVerbose, slog.LevelDebug, fmt.Sprintf("%s: %+v", name, v))
}

// Section prints a section separator (level 3).
func Section(name string) {
	emit(LevelVerbose, slog.LevelDebug, "━━━ "+name+" ━━━")
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	emit(LevelVerbose, slog.LevelDebug, fmt.Sprintf("Step %d: %s", num, description))
}

// --- Level 4 functions (Trace) ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...any) {
	emit(LevelTrace, slogTrace, fmt.Sprintf(format, args...))
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value any) {
	emit(LevelTrace, slogTrace, "gpio", "op", operation, "pin", pin, "value", value)
}

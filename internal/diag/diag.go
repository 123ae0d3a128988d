// Package diag provides a verbose structured logger for development diagnostics.
//
// When enabled via --debug (or CAIRN_DEBUG), every significant event in the
// cairnd runtime is written to a single .log file under
// <cairn_home>/debug/. The log includes nanosecond timestamps, goroutine
// IDs, caller locations, and the agent/namespace IDs relevant to the line so
// that any run can be reconstructed after the fact.
//
// When disabled (the default), all logging functions are no-ops with zero
// allocation overhead.
package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	logger   *Logger
	loggerMu sync.RWMutex
)

// Logger writes structured debug lines to a file.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	startedAt time.Time
}

// Init initializes the global debug logger rooted at cairnHome/debug. It
// returns the log file path. Calling Init when debug mode is off is
// unnecessary: all Log/Logf/LogKV calls are no-ops when the logger is nil.
func Init(cairnHome string) (string, error) {
	dir := filepath.Join(cairnHome, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("diag: create dir %s: %w", dir, err)
	}

	now := time.Now()
	id := uuid.NewString()[:8]
	filename := fmt.Sprintf("%s_%s.log", now.Format("20060102T150405"), id)
	path := filepath.Join(dir, filename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("diag: open log %s: %w", path, err)
	}

	l := &Logger{file: f, path: path, startedAt: now}

	header := fmt.Sprintf(
		"=== CAIRN DEBUG LOG ===\nStarted: %s\nPID: %d\nGOMAXPROCS: %d\nLog ID: %s\nFile: %s\n===\n\n",
		now.Format(time.RFC3339Nano), os.Getpid(), runtime.GOMAXPROCS(0), id, path,
	)
	f.WriteString(header)

	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()

	return path, nil
}

// Close flushes and closes the debug log. Safe to call when not initialized.
func Close() {
	loggerMu.Lock()
	l := logger
	logger = nil
	loggerMu.Unlock()

	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	elapsed := time.Since(l.startedAt)
	l.file.WriteString(fmt.Sprintf("\n=== DEBUG LOG CLOSED === (duration=%s)\n", elapsed))
	l.file.Close()
}

// Enabled returns true if the debug logger is active.
func Enabled() bool {
	loggerMu.RLock()
	e := logger != nil
	loggerMu.RUnlock()
	return e
}

// Path returns the log file path, or "" if not enabled.
func Path() string {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return ""
	}
	return l.path
}

// Log writes a debug line. No-op when debug is disabled.
func Log(component, msg string) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return
	}
	l.write(component, msg)
}

// Logf writes a formatted debug line. No-op when debug is disabled.
func Logf(component, format string, args ...any) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return
	}
	l.write(component, fmt.Sprintf(format, args...))
}

// LogKV writes a debug line with key-value context pairs, e.g.
// diag.LogKV("orchestrator", "agent queued", "agent_id", id, "priority", p).
func LogKV(component, msg string, kvs ...any) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return
	}

	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(kvs); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kvs[i], kvs[i+1])
	}
	l.write(component, b.String())
}

func (l *Logger) write(component, msg string) {
	now := time.Now()
	elapsed := now.Sub(l.startedAt)
	gid := goroutineID()

	_, file, line, ok := runtime.Caller(2)
	caller := "??:0"
	if ok {
		if idx := strings.LastIndex(file, "/internal/"); idx >= 0 {
			file = file[idx+1:]
		} else if idx := strings.LastIndex(file, "/cmd/"); idx >= 0 {
			file = file[idx+1:]
		} else if idx := strings.LastIndex(file, "/pkg/"); idx >= 0 {
			file = file[idx+1:]
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}

	formatted := fmt.Sprintf("%s +%12s [G%-6d] [%-14s] %-40s | %s\n",
		now.Format("15:04:05.000000000"),
		elapsed.Truncate(time.Microsecond),
		gid, component, caller, msg,
	)

	l.mu.Lock()
	l.file.WriteString(formatted)
	l.mu.Unlock()
}

// goroutineID extracts the goroutine ID from runtime.Stack output.
// Used only in debug mode, where the cost of a stack walk is acceptable.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := string(buf[:n])
	if !strings.HasPrefix(s, "goroutine ") {
		return 0
	}
	s = s[len("goroutine "):]
	var id int64
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}

// ShouldEnableFromEnv reports whether CAIRN_DEBUG is set to a truthy value.
func ShouldEnableFromEnv() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("CAIRN_DEBUG")))
	return v == "1" || v == "true" || v == "yes"
}

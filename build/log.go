package build

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// LogWriter is a stdout-and-rotating-file io.Writer shared by every
// subsystem logger until a log rotator has been attached via
// InitLogRotator.
type LogWriter struct {
	Rotator *rotator.Rotator
}

// Write writes to standard out and, once initialized, to the rotator.
func (w *LogWriter) Write(b []byte) (int, error) {
	os.Stdout.Write(b)
	if w.Rotator != nil {
		return w.Rotator.Write(b)
	}
	return len(b), nil
}

// RotatingLogWriter is the root of the logging system: it owns the
// rotating file writer and hands out per-subsystem slog.Logger values that
// all share it, so every subsystem's output interleaves into one log file
// and can be filtered by its own level independently of the others.
type RotatingLogWriter struct {
	mu          sync.Mutex
	writer      *LogWriter
	backend     *slog.Backend
	subLoggers  map[string]slog.Logger
}

// NewRotatingLogWriter returns a ready-to-use writer. Loggers minted before
// InitLogRotator runs still work; they simply write to stdout only until a
// log file is attached.
func NewRotatingLogWriter() *RotatingLogWriter {
	w := &LogWriter{}
	return &RotatingLogWriter{
		writer:     w,
		backend:    slog.NewBackend(w),
		subLoggers: make(map[string]slog.Logger),
	}
}

// InitLogRotator attaches a rotating log file at logFile, keeping files
// under maxLogFileSize megabytes each and retaining maxLogFiles historical
// files before the oldest is deleted.
func (r *RotatingLogWriter) InitLogRotator(logFile string, maxLogFileSize, maxLogFiles int) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return fmt.Errorf("build: creating log directory: %w", err)
		}
	}

	rot, err := rotator.New(logFile, int64(maxLogFileSize*1024), false, maxLogFiles)
	if err != nil {
		return fmt.Errorf("build: initializing log rotator: %w", err)
	}

	r.mu.Lock()
	r.writer.Rotator = rot
	r.mu.Unlock()
	return nil
}

// GenSubLogger creates a new logger for a subsystem tag backed by this
// writer's shared backend, and remembers it so SetLogLevels can reach it
// later.
func (r *RotatingLogWriter) GenSubLogger(tag string) slog.Logger {
	logger := r.backend.Logger(tag)

	r.mu.Lock()
	r.subLoggers[tag] = logger
	r.mu.Unlock()

	return logger
}

// RegisterSubLogger associates an already-created logger with a subsystem
// tag, so SetLogLevels can adjust its level by name.
func (r *RotatingLogWriter) RegisterSubLogger(subsystem string, logger slog.Logger) {
	r.mu.Lock()
	r.subLoggers[subsystem] = logger
	r.mu.Unlock()
}

// SetLogLevel sets the log level of a registered subsystem. Unknown
// subsystem names are ignored, mirroring the tolerant behavior of --debuglevel
// parsing elsewhere in the stack.
func (r *RotatingLogWriter) SetLogLevel(subsystem, level string) {
	r.mu.Lock()
	logger, ok := r.subLoggers[subsystem]
	r.mu.Unlock()
	if !ok {
		return
	}

	lvl, ok := slog.LevelFromString(level)
	if !ok {
		return
	}
	logger.SetLevel(lvl)
}

// SetLogLevels sets every registered subsystem to level.
func (r *RotatingLogWriter) SetLogLevels(level string) {
	r.mu.Lock()
	subsystems := make([]string, 0, len(r.subLoggers))
	for s := range r.subLoggers {
		subsystems = append(subsystems, s)
	}
	r.mu.Unlock()

	for _, s := range subsystems {
		r.SetLogLevel(s, level)
	}
}

// SupportedSubsystems returns the tags of every subsystem logger
// registered so far.
func (r *RotatingLogWriter) SupportedSubsystems() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subsystems := make([]string, 0, len(r.subLoggers))
	for s := range r.subLoggers {
		subsystems = append(subsystems, s)
	}
	return subsystems
}

// Close flushes and closes the underlying log file, if one was attached.
func (r *RotatingLogWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer.Rotator == nil {
		return nil
	}
	return r.writer.Rotator.Close()
}

var _ io.Writer = (*LogWriter)(nil)

// NewSubLogger returns genLogger(subsystem) if genLogger is non-nil,
// otherwise a disabled logger. This lets package-level loggers be declared
// before the root RotatingLogWriter exists, and replaced once it does.
func NewSubLogger(subsystem string, genLogger func(string) slog.Logger) slog.Logger {
	if genLogger == nil {
		return slog.Disabled
	}
	return genLogger(subsystem)
}

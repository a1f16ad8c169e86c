package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/felixgeelhaar/bolt/v3"
)

// Logger is a component-scoped logger for memoryd packages.
// Records are written through a shared bolt logger configured once at
// startup with Configure; until then they go to stderr at info level.
type Logger struct {
	component string
}

// Options controls the shared log sink.
type Options struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is json or console.
	Format string
	// File, when set, appends records to this path instead of stderr.
	File string
}

var (
	mu   sync.RWMutex
	root = newRoot(os.Stderr, "json", "info")
	file *os.File
)

func newRoot(out io.Writer, format, level string) *bolt.Logger {
	var l *bolt.Logger
	if strings.EqualFold(format, "console") {
		l = bolt.New(bolt.NewConsoleHandler(out))
	} else {
		l = bolt.New(bolt.NewJSONHandler(out))
	}
	switch normalizeLevel(level) {
	case "debug":
		l.SetLevel(bolt.DEBUG)
	case "warn":
		l.SetLevel(bolt.WARN)
	case "error":
		l.SetLevel(bolt.ERROR)
	default:
		l.SetLevel(bolt.INFO)
	}
	return l
}

func normalizeLevel(level string) string {
	switch strings.ToLower(level) {
	case "debug":
		return "debug"
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return "info"
	}
}

// Configure replaces the shared sink. If the log file cannot be opened the
// sink falls back to stderr and the error is returned so the caller can
// report it.
func Configure(opts Options) error {
	var (
		out     io.Writer = os.Stderr
		f       *os.File
		openErr error
	)
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0750); err != nil {
			openErr = fmt.Errorf("logging: create log directory: %w", err)
		} else if f, err = os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600); err != nil {
			openErr = fmt.Errorf("logging: open log file: %w", err)
		} else {
			out = f
		}
	}
	return configure(out, f, opts, openErr)
}

// ConfigureWriter points the shared sink at w. Used by tests and by callers
// that manage their own output.
func ConfigureWriter(w io.Writer, opts Options) {
	_ = configure(w, nil, opts, nil)
}

func configure(out io.Writer, f *os.File, opts Options, openErr error) error {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		_ = file.Close()
	}
	file = f
	root = newRoot(out, opts.Format, opts.Level)
	if openErr != nil {
		root.Warn().Err(openErr).Msg("falling back to stderr logging")
	}
	return openErr
}

// Close releases the log file, if any. Safe to call multiple times.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	root = newRoot(os.Stderr, "json", "info")
	return err
}

// Root returns the shared bolt logger for callers that want structured fields.
func Root() *bolt.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// NewLogger creates a logger for a specific component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// Component returns the component name attached to every record.
func (l *Logger) Component() string {
	return l.component
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	Root().Debug().Str("component", l.component).Msg(fmt.Sprintf(format, v...))
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	Root().Info().Str("component", l.component).Msg(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	Root().Warn().Str("component", l.component).Msg(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	Root().Error().Str("component", l.component).Msg(fmt.Sprintf(format, v...))
}

// Session logs a structured record about a session. Level is one of the
// Options levels; unknown levels log at info.
func (l *Logger) Session(level, sessionID, msg string, err error) {
	r := Root()
	switch normalizeLevel(level) {
	case "debug":
		r.Debug().Str("component", l.component).Str("session", sessionID).Err(err).Msg(msg)
	case "warn":
		r.Warn().Str("component", l.component).Str("session", sessionID).Err(err).Msg(msg)
	case "error":
		r.Error().Str("component", l.component).Str("session", sessionID).Err(err).Msg(msg)
	default:
		r.Info().Str("component", l.component).Str("session", sessionID).Err(err).Msg(msg)
	}
}

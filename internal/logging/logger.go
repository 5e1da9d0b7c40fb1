// Package logging provides config-driven categorized file-based logging for livepatch.
// Logs are written to <project>/.livepatch/logs/ with separate files per category.
// Logging is controlled by debug_mode in the logging config - when false, no logs are written.
// Each category is a zap core; callers keep the printf-style API.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Boot/initialization
	CategoryResolver  Category = "resolver"  // Source path resolution, self-patch guard
	CategoryFastPath  Category = "fastpath"  // Deterministic string matchers
	CategoryModel     Category = "model"     // Local and cloud model calls
	CategoryPatchGen  Category = "patchgen"  // Strategy orchestration
	CategoryApproval  Category = "approval"  // Approval lifecycle
	CategoryTelemetry Category = "telemetry" // Lifecycle summaries
	CategoryHistory   Category = "history"   // Disk writes, undo/redo
	CategoryBrowser   Category = "browser"   // Live page execution, inspection
	CategoryFiles     Category = "files"     // File service, watcher
	CategoryAPI       Category = "api"       // HTTP surface
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	DebugMode  bool
	Level      string
	JSONFormat bool
	Categories map[string]bool
}

// Logger wraps a zap logger bound to one category.
type Logger struct {
	category Category
	base     *zap.Logger
	sugar    *zap.SugaredLogger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	opts      Options
	optsMu    sync.RWMutex
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	// redirect, when set, receives every category regardless of debug mode.
	redirect zapcore.Core
)

// Initialize sets up the logging directory. Should be called once at startup.
// With DebugMode off this is a silent no-op and every logger discards output.
func Initialize(dir string, o Options) error {
	optsMu.Lock()
	opts = o
	optsMu.Unlock()
	level.SetLevel(parseLevel(o.Level))

	if !o.DebugMode {
		return nil
	}
	if dir == "" {
		return fmt.Errorf("logs directory required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	loggersMu.Lock()
	logsDir = dir
	loggersMu.Unlock()

	boot := Get(CategoryBoot)
	boot.Info("=== livepatch logging initialized ===")
	boot.Info("Logs directory: %s", dir)
	boot.Info("Log level: %s", level.Level())
	return nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()

	if !opts.DebugMode {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Redirect sends every category to core, bypassing debug mode and files.
// The returned func restores file logging. Intended for tests and for the
// CLI's --verbose console output.
func Redirect(core zapcore.Core) (restore func()) {
	loggersMu.Lock()
	prev := redirect
	redirect = core
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()

	return func() {
		loggersMu.Lock()
		redirect = prev
		loggers = make(map[Category]*Logger)
		loggersMu.Unlock()
	}
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	core, dir := redirect, logsDir
	loggersMu.RUnlock()

	if core == nil && (!IsCategoryEnabled(category) || dir == "") {
		return newLogger(category, zap.NewNop(), nil)
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	if core != nil {
		l := newLogger(category, zap.New(core).With(zap.String("cat", string(category))), nil)
		loggers[category] = l
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return newLogger(category, zap.NewNop(), nil)
	}

	l := newLogger(category, zap.New(zapcore.NewCore(encoder(), zapcore.AddSync(file), level)), file)
	loggers[category] = l
	return l
}

func newLogger(category Category, base *zap.Logger, file *os.File) *Logger {
	return &Logger{category: category, base: base, sugar: base.Sugar(), file: file}
}

func encoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	optsMu.RLock()
	jsonFormat := opts.JSONFormat
	optsMu.RUnlock()
	if jsonFormat {
		return zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying structured fields on every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return newLogger(l.category, l.base.With(fields...), l.file)
}

// Structured writes one entry with typed fields.
func (l *Logger) Structured(lvl zapcore.Level, msg string, fields ...zap.Field) {
	if ce := l.base.Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// CloseAll syncs and closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		_ = l.base.Sync()
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// ResolverDebug logs resolver details
func ResolverDebug(format string, args ...interface{}) {
	Get(CategoryResolver).Debug(format, args...)
}

// ResolverWarn logs resolver refusals
func ResolverWarn(format string, args ...interface{}) {
	Get(CategoryResolver).Warn(format, args...)
}

// FastPathDebug logs matcher decisions
func FastPathDebug(format string, args ...interface{}) {
	Get(CategoryFastPath).Debug(format, args...)
}

// Model logs to the model category
func Model(format string, args ...interface{}) {
	Get(CategoryModel).Info(format, args...)
}

// ModelDebug logs model details
func ModelDebug(format string, args ...interface{}) {
	Get(CategoryModel).Debug(format, args...)
}

// ModelWarn logs rejected or failed model output
func ModelWarn(format string, args ...interface{}) {
	Get(CategoryModel).Warn(format, args...)
}

// PatchGen logs to the patchgen category
func PatchGen(format string, args ...interface{}) {
	Get(CategoryPatchGen).Info(format, args...)
}

// PatchGenDebug logs strategy details
func PatchGenDebug(format string, args ...interface{}) {
	Get(CategoryPatchGen).Debug(format, args...)
}

// PatchGenWarn logs aborted generations
func PatchGenWarn(format string, args ...interface{}) {
	Get(CategoryPatchGen).Warn(format, args...)
}

// Approval logs to the approval category
func Approval(format string, args ...interface{}) {
	Get(CategoryApproval).Info(format, args...)
}

// ApprovalDebug logs approval transitions
func ApprovalDebug(format string, args ...interface{}) {
	Get(CategoryApproval).Debug(format, args...)
}

// ApprovalWarn logs recoverable approval failures
func ApprovalWarn(format string, args ...interface{}) {
	Get(CategoryApproval).Warn(format, args...)
}

// History logs to the history category
func History(format string, args ...interface{}) {
	Get(CategoryHistory).Info(format, args...)
}

// HistoryWarn logs history recording failures
func HistoryWarn(format string, args ...interface{}) {
	Get(CategoryHistory).Warn(format, args...)
}

// HistoryError logs failed writes
func HistoryError(format string, args ...interface{}) {
	Get(CategoryHistory).Error(format, args...)
}

// BrowserDebug logs page execution details
func BrowserDebug(format string, args ...interface{}) {
	Get(CategoryBrowser).Debug(format, args...)
}

// BrowserWarn logs page execution failures
func BrowserWarn(format string, args ...interface{}) {
	Get(CategoryBrowser).Warn(format, args...)
}

// FilesDebug logs file service details
func FilesDebug(format string, args ...interface{}) {
	Get(CategoryFiles).Debug(format, args...)
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}

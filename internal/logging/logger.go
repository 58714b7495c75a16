// Package logging provides config-driven categorized logging for porchlight.
// Every category is a named child of a single zap logger. Logging is disabled
// (no-op) until Initialize is called with debug mode on, or until a base
// logger is installed with SetBase.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Boot/initialization
	CategoryCell     Category = "cell"     // Value cell writes and guards
	CategoryAdapter  Category = "adapter"  // Function introspection and invocation
	CategoryScript   Category = "script"   // Interpreted model source
	CategoryMediator Category = "mediator" // Pool management and step execution
	CategoryStore    Category = "store"    // Step history persistence
	CategoryWatch    Category = "watch"    // File watching
	CategoryCLI      Category = "cli"      // Command line surface
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	DebugMode  bool
	Level      string
	JSONFormat bool
	File       string
	Categories map[string]bool
}

// Logger wraps a sugared zap logger bound to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	base    = zap.NewNop()
	options Options
	optsMu  sync.RWMutex
)

// Initialize builds the base zap logger from opts.
// Should be called once at startup.
func Initialize(opts Options) error {
	optsMu.Lock()
	options = opts
	optsMu.Unlock()

	if !opts.DebugMode {
		setBase(zap.NewNop())
		return nil
	}

	cfg := zap.NewProductionConfig()
	if !opts.JSONFormat {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(opts.Level))
	cfg.OutputPaths = []string{"stderr"}
	if opts.File != "" {
		cfg.OutputPaths = []string{opts.File}
	}

	zl, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	setBase(zl)

	Boot("=== porchlight logging initialized ===")
	Boot("Log level: %s", opts.Level)
	if len(opts.Categories) == 0 {
		BootDebug("All categories enabled (no category filter)")
	} else {
		BootDebug("Enabled categories: %v", opts.Categories)
	}
	return nil
}

// SetBase installs a caller-built zap logger for every category.
// Tests and the CLI use this to route porchlight logs into their own sink.
func SetBase(zl *zap.Logger) {
	if zl == nil {
		zl = zap.NewNop()
	}
	optsMu.Lock()
	options.DebugMode = true
	optsMu.Unlock()
	setBase(zl)
}

func setBase(zl *zap.Logger) {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	base = zl
	loggers = make(map[Category]*Logger)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
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

// IsDebugMode returns whether logging is enabled at all.
func IsDebugMode() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return options.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()

	if !options.DebugMode {
		return false
	}
	if options.Categories == nil {
		return true
	}
	enabled, exists := options.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    base.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Zap exposes the underlying structured logger.
func (l *Logger) Zap() *zap.Logger {
	return l.sugar.Desugar()
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// WithContext returns a logger that attaches the given key-value context to every entry.
func (l *Logger) WithContext(ctx map[string]interface{}) *Logger {
	kv := make([]interface{}, 0, len(ctx)*2)
	for k, v := range ctx {
		kv = append(kv, k, v)
	}
	return &Logger{category: l.category, sugar: l.sugar.With(kv...)}
}

// Sync flushes any buffered entries (call at shutdown).
func Sync() {
	loggersMu.RLock()
	zl := base
	loggersMu.RUnlock()
	if err := zl.Sync(); err != nil && !isSyncNoise(err) {
		fmt.Fprintf(os.Stderr, "[logging] sync failed: %v\n", err)
	}
}

// stderr/stdout cannot be fsynced on most platforms.
func isSyncNoise(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl")
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }

func CellDebug(format string, args ...interface{}) { Get(CategoryCell).Debug(format, args...) }
func CellWarn(format string, args ...interface{})  { Get(CategoryCell).Warn(format, args...) }

func Adapter(format string, args ...interface{})      { Get(CategoryAdapter).Info(format, args...) }
func AdapterDebug(format string, args ...interface{}) { Get(CategoryAdapter).Debug(format, args...) }
func AdapterWarn(format string, args ...interface{})  { Get(CategoryAdapter).Warn(format, args...) }

func Script(format string, args ...interface{})      { Get(CategoryScript).Info(format, args...) }
func ScriptDebug(format string, args ...interface{}) { Get(CategoryScript).Debug(format, args...) }

func Mediator(format string, args ...interface{})      { Get(CategoryMediator).Info(format, args...) }
func MediatorDebug(format string, args ...interface{}) { Get(CategoryMediator).Debug(format, args...) }
func MediatorError(format string, args ...interface{}) { Get(CategoryMediator).Error(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

func Watch(format string, args ...interface{})      { Get(CategoryWatch).Info(format, args...) }
func WatchDebug(format string, args ...interface{}) { Get(CategoryWatch).Debug(format, args...) }

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

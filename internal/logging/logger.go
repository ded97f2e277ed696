// Package logging provides categorized structured logging for deepscout.
// Each subsystem (orchestrator, tree, node, search, brain, llm) gets a named
// zap logger so log output can be filtered per category. Until Init is called
// every logger is a no-op, which keeps library embedders silent by default.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryOrchestrator Category = "orchestrator" // Run lifecycle, terminal transitions
	CategoryTree         Category = "tree"         // Node dispatch, budgets
	CategoryNode         Category = "node"         // Cycle loop activity
	CategorySearch       Category = "search"       // Search/extract execution
	CategoryBrain        Category = "brain"        // Evaluate/finish decisions
	CategoryLLM          Category = "llm"          // Model calls, retries
	CategoryDocument     Category = "document"     // Edit application
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Init installs the process-wide logger. Pass debug=true for development
// output (console encoding, debug level); production gets JSON at info level.
func Init(debug bool) error {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	logger, err := cfg.Build(zap.AddCallerSkip(0))
	if err != nil {
		return err
	}
	SetLogger(logger)
	return nil
}

// SetLogger replaces the root logger. Useful in tests to capture output.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	root = l
}

// L returns the root logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// For returns a named logger for the given category.
func For(c Category) *zap.Logger {
	return L().Named(string(c))
}

// Sync flushes buffered log entries. Safe to call on a no-op logger.
func Sync() {
	_ = L().Sync()
}

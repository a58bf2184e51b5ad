// Package logging provides category-scoped structured logging for the
// moderation engine. Each subsystem logs under its own named zap logger so
// operators can filter cascade, analyzer, provider, cost, trust, and store
// activity independently.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryCascade  Category = "cascade"
	CategoryRules    Category = "rules"
	CategoryAnalyzer Category = "analyzer"
	CategoryProvider Category = "provider"
	CategoryCost     Category = "cost"
	CategoryTrust    Category = "trust"
	CategoryStore    Category = "store"
	CategoryPlatform Category = "platform"
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
	subs = make(map[Category]*zap.Logger)
)

// Initialize installs the process-wide root logger. debug selects a
// development config with human-readable output; production JSON otherwise.
func Initialize(debug bool) error {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		l, err = cfg.Build()
	}
	if err != nil {
		return err
	}
	SetRoot(l)
	return nil
}

// SetRoot replaces the root logger. Tests pass zap.NewNop() or zaptest output.
func SetRoot(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
	subs = make(map[Category]*zap.Logger)
}

// Get returns the named logger for a category.
func Get(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := subs[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := subs[cat]; ok {
		return l
	}
	l := root.Named(string(cat))
	subs[cat] = l
	return l
}

// Nop returns a discard logger, for wiring components in tests.
func Nop() *zap.Logger { return zap.NewNop() }

// Sync flushes buffered entries. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

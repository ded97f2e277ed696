package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultIsNoop(t *testing.T) {
	SetLogger(nil)
	// Must not panic and must not write anywhere.
	For(CategoryTree).Info("should vanish")
	Sync()
}

func TestCategoryLoggersAreNamed(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	For(CategoryBrain).Info("decision made")
	For(CategorySearch).Debug("query issued")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].LoggerName != string(CategoryBrain) {
		t.Errorf("expected logger name %q, got %q", CategoryBrain, entries[0].LoggerName)
	}
	if entries[1].LoggerName != string(CategorySearch) {
		t.Errorf("expected logger name %q, got %q", CategorySearch, entries[1].LoggerName)
	}
}

func TestInitDebug(t *testing.T) {
	if err := Init(true); err != nil {
		t.Fatalf("Init(true) failed: %v", err)
	}
	defer SetLogger(nil)
	if L() == nil {
		t.Fatal("root logger is nil after Init")
	}
}

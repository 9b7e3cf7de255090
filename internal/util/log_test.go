package util

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevels(t *testing.T) {
	if got := NewLogger("debug", "trader").GetLevel(); got != zerolog.DebugLevel {
		t.Fatalf("expected debug, got %s", got)
	}
	if got := NewLogger("WARN", "trader").GetLevel(); got != zerolog.WarnLevel {
		t.Fatalf("expected warn for mixed case, got %s", got)
	}
}

func TestNewLoggerBadLevelFallsBack(t *testing.T) {
	if got := NewLogger("shouting", "trader").GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", got)
	}
}

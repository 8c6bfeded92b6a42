package log

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	if New(false).Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("production logger should drop info")
	}
	if !New(false).Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("production logger should keep warn")
	}
	if !New(true).Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug logger should keep debug")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("expected a logger for nil input")
	}
	l := zap.NewExample()
	if OrNop(l) != l {
		t.Fatalf("expected the given logger back")
	}
}

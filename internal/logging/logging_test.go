package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		verbosity int
		want      zapcore.Level
	}{
		{1, zapcore.InfoLevel},
		{2, zapcore.DebugLevel},
		{3, zapcore.DebugLevel},
		{7, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		if got := Level(tt.verbosity); got != tt.want {
			t.Errorf("Level(%d) = %v, want %v", tt.verbosity, got, tt.want)
		}
	}
}

func TestNewSilent(t *testing.T) {
	l, err := New(0)
	if err != nil {
		t.Fatal(err)
	}
	if l.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("verbosity 0 should discard everything")
	}
}

func TestNewEnablesLevel(t *testing.T) {
	l := Must(1)
	if !l.Core().Enabled(zapcore.InfoLevel) {
		t.Error("verbosity 1 should log info")
	}
	if l.Core().Enabled(zapcore.DebugLevel) {
		t.Error("verbosity 1 should not log debug")
	}
}

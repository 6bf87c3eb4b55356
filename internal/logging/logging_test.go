package logging

import (
	"testing"

	"delta-hedger/internal/config"

	"go.uber.org/zap/zapcore"
)

func TestLevelMapping(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"":      zapcore.InfoLevel,
		"loud":  zapcore.InfoLevel,
	}
	for name, want := range cases {
		if got := level(name); got != want {
			t.Fatalf("level %q: expected %v, got %v", name, want, got)
		}
	}
}

func TestNewHonoursLevel(t *testing.T) {
	log := New(config.LoggingConfig{Level: "warn", Format: "console"})
	if log.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info must be disabled at warn level")
	}
	if !log.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("error must be enabled at warn level")
	}
}

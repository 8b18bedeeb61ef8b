package logging

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWithLevel(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LOCALAPPDATA", t.TempDir())

	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log := NewWithLevel(tt.level)
			if got := log.GetLevel(); got != tt.want {
				t.Errorf("expected level %s, got %s", tt.want, got)
			}
		})
	}
}

func TestGetLogPathUsesXDGStateHome(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		t.Skip("XDG_STATE_HOME only applies on linux")
	}

	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)

	want := filepath.Join(dir, "whisper-probe", "whisper-probe.log")
	if got := getLogPath(); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

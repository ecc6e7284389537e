package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("%q: expected %v, got %v", tt.in, tt.want, got)
		}
	}

	if _, err := parseLevel("loud"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestFileOutput(t *testing.T) {
	defer func() {
		Log = zap.NewNop()
		Sugar = Log.Sugar()
	}()

	logFile := filepath.Join(t.TempDir(), "vkprism.log")
	cfg := DefaultFileConfig(logFile)
	cfg.Compress = false
	if err := InitWithFileConfig("info", cfg, false); err != nil {
		t.Fatalf("failed to init logger: %v", err)
	}

	Log.Named("accel").Info("blas built", zap.Int("count", 3))
	Log.Debug("filtered out")
	Sync()

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), data)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "blas built" || entry["logger"] != "accel" || entry["count"] != float64(3) {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	if err := Init("verbose", ""); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

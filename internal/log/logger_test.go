package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewAppLoggerWithConfig(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAppLoggerWithConfig(&buf, true)
	if logger == nil {
		t.Fatal("logger should not be nil")
	}
	if logger.level != DEBUG {
		t.Error("debug mode should enable DEBUG level")
	}
	if logger.fileHandle != nil {
		t.Error("external writers should not hold a file handle")
	}
}

func TestAppLogger_Debug(t *testing.T) {
	tests := []struct {
		name      string
		debugMode bool
		message   string
		expectLog bool
	}{
		{"written in debug mode", true, "debug message", true},
		{"dropped outside debug mode", false, "should not appear", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewAppLoggerWithConfig(&buf, tt.debugMode)
			logger.Debug(tt.message)
			output := buf.String()
			hasLog := strings.Contains(output, tt.message)
			if hasLog != tt.expectLog {
				t.Errorf("expected output=%v, got %v", tt.expectLog, hasLog)
			}
			if tt.expectLog && !strings.Contains(output, "[DEBUG]") {
				t.Error("debug output should carry the [DEBUG] prefix")
			}
		})
	}
}

func TestAppLogger_LevelsAndFormatting(t *testing.T) {
	tests := []struct {
		name   string
		write  func(*AppLogger)
		prefix string
		text   string
	}{
		{"info", func(l *AppLogger) { l.Info("council ready: %s", "3 models") }, "[INFO]", "council ready: 3 models"},
		{"warn", func(l *AppLogger) { l.Warn("model failed: %d", 1) }, "[WARN]", "model failed: 1"},
		{"error", func(l *AppLogger) { l.Error("chairman error: %v", "timeout") }, "[ERROR]", "chairman error: timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.write(NewAppLoggerWithConfig(&buf, false))
			output := buf.String()
			if !strings.Contains(output, tt.prefix) {
				t.Errorf("output %q should contain %s", output, tt.prefix)
			}
			if !strings.Contains(output, tt.text) {
				t.Errorf("output %q should contain formatted message", output)
			}
		})
	}
}

func TestAppLogger_LevelThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAppLoggerWithLevel(&buf, WARN)
	logger.Info("hidden info")
	logger.Warn("visible warn")
	output := buf.String()
	if strings.Contains(output, "hidden info") {
		t.Error("INFO should be dropped at WARN level")
	}
	if !strings.Contains(output, "visible warn") {
		t.Error("WARN should be written at WARN level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DEBUG,
		"DEBUG":   DEBUG,
		"warn":    WARN,
		"warning": WARN,
		"error":   ERROR,
		"":        INFO,
		"verbose": INFO,
	}
	for input, want := range tests {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestAppLogger_NilSafety(t *testing.T) {
	var logger *AppLogger
	logger.Debug("no panic")
	logger.Info("no panic")
	logger.Warn("no panic")
	logger.Error("no panic")
	if err := logger.Close(); err != nil {
		t.Errorf("closing nil logger should not fail: %v", err)
	}
}

func TestContainsPathTraversal(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"plain path", "/var/log/app.log", false},
		{"parent segment", "/var/../etc/passwd", true},
		{"leading parent", "../secret.txt", true},
		{"current dir", "./local.log", false},
		{"windows parent", "..\\config.ini", true},
		{"empty", "", false},
		{"dots in file name", "/var/log/app..2024.log", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := containsPathTraversal(tt.path)
			if result != tt.expected {
				t.Errorf("containsPathTraversal(%q) = %v, want %v", tt.path, result, tt.expected)
			}
		})
	}
}

func TestIsDebug(t *testing.T) {
	tests := []struct {
		name     string
		ginMode  string
		logLevel string
		expected bool
	}{
		{"gin debug", "debug", "", true},
		{"release", "release", "", false},
		{"log level debug", "release", "debug", true},
		{"test", "test", "info", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GIN_MODE", tt.ginMode)
			t.Setenv("LOG_LEVEL", tt.logLevel)
			if result := IsDebug(); result != tt.expected {
				t.Errorf("IsDebug() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestCreateLogger_WritesToLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "council.log")
	t.Setenv("LOG_FILE", path)
	t.Setenv("GIN_MODE", "release")
	t.Setenv("LOG_LEVEL", "info")

	logger := CreateLogger()
	appLogger, ok := logger.(*AppLogger)
	if !ok {
		t.Fatalf("unexpected logger type %T", logger)
	}
	appLogger.Info("round complete")
	if err := appLogger.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "round complete") {
		t.Errorf("log file should contain the message, got %q", data)
	}
}

func TestAppLogger_MultipleWrites(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAppLoggerWithConfig(&buf, true)
	logger.Debug("first")
	logger.Info("second")
	logger.Warn("third")
	logger.Error("fourth")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Errorf("expected 4 lines, got %d", len(lines))
	}
}

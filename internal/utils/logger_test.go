package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBackgroundLogger(t *testing.T) {
	dir := t.TempDir()
	bgLogger, err := NewBackgroundLogger(dir, "job-123")
	if err != nil && bgLogger.IsEnabled() {
		t.Fatalf("Failed to create background logger: %v", err)
	}
	defer bgLogger.Close()

	if !ENABLE_BACKGROUND_LOGGING {
		t.Log("Background logging is disabled via ENABLE_BACKGROUND_LOGGING constant")
		if bgLogger.IsEnabled() {
			t.Error("Logger should be disabled when ENABLE_BACKGROUND_LOGGING is false")
		}
		return
	}

	if !bgLogger.IsEnabled() {
		t.Fatal("Logger should be enabled when ENABLE_BACKGROUND_LOGGING is true")
	}

	logPath := bgLogger.GetLogPath()
	if logPath == "" {
		t.Fatal("Log path should not be empty")
	}

	expected := filepath.Join(dir, "gosynctasks-sync-job-123.log")
	if logPath != expected {
		t.Errorf("Log path = %s, want %s", logPath, expected)
	}

	bgLogger.Printf("test message for job %s", "job-123")
	bgLogger.Close()

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Errorf("Log file should exist at %s", logPath)
	}
}

func TestBackgroundLoggerDisabled(t *testing.T) {
	t.Logf("ENABLE_BACKGROUND_LOGGING is currently: %v", ENABLE_BACKGROUND_LOGGING)

	if !ENABLE_BACKGROUND_LOGGING {
		bgLogger, _ := NewBackgroundLogger(t.TempDir(), "job-123")
		defer bgLogger.Close()

		if bgLogger.IsEnabled() {
			t.Error("Logger should be disabled when ENABLE_BACKGROUND_LOGGING is false")
		}

		bgLogger.Printf("Test message")
		bgLogger.Print("Test message")
		bgLogger.Println("Test message")
	}
}

func TestBackgroundLoggerMethods(t *testing.T) {
	dir := t.TempDir()
	bgLogger, err := NewBackgroundLogger(dir, "job-456")
	if err != nil && bgLogger.IsEnabled() {
		t.Fatalf("Failed to create background logger: %v", err)
	}
	defer bgLogger.Close()

	if !bgLogger.IsEnabled() {
		t.Skip("Logging is disabled, skipping method tests")
	}

	bgLogger.Printf("Printf test: %d", 42)
	bgLogger.Print("Print test")
	bgLogger.Println("Println test")
}

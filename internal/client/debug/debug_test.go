package debug

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func redirect(t *testing.T) string {
	t.Helper()
	pathOnce.Do(func() {})
	logPath = filepath.Join(t.TempDir(), "debug.log")
	return logPath
}

func TestLogWritesWhenEnabled(t *testing.T) {
	path := redirect(t)
	Enabled = true
	defer func() { Enabled = false }()

	Log("connect attempt %d", 3)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "connect attempt 3") {
		t.Errorf("log content %q missing formatted entry", data)
	}
}

func TestLogDisabledWritesNothing(t *testing.T) {
	path := redirect(t)
	Enabled = false

	Log("should not appear")

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("disabled logger must not create the log file")
	}
}

// Package debug writes client diagnostics to a file. The TUI owns the
// terminal, so nothing here may print to stdout or stderr.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var Enabled = false

var (
	pathOnce sync.Once
	logPath  string
)

// Path resolves the log location once: ~/.config/wisp/debug.log when a home
// directory exists, the working directory otherwise.
func Path() string {
	pathOnce.Do(func() {
		logPath = "wisp-debug.log"
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		dir := filepath.Join(home, ".config", "wisp")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return
		}
		logPath = filepath.Join(dir, "debug.log")
	})
	return logPath
}

func Log(format string, args ...interface{}) {
	if !Enabled {
		return
	}
	f, err := os.OpenFile(Path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, time.Now().Format("15:04:05.000 ")+format+"\n", args...)
}

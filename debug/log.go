package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	out      io.Writer
	closer   io.Closer
	mu       sync.Mutex
	enabled  bool
	counters = make(map[string]int)
)

// DefaultPath is ~/.config/trance-studio/debug.log
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "trance-studio", "debug.log"), nil
}

// Enable starts logging to path, truncating it. An empty path means DefaultPath.
func Enable(path string) error {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	enable(f, f)
	return nil
}

// EnableWriter logs to w instead of a file
func EnableWriter(w io.Writer) {
	enable(w, nil)
}

func enable(w io.Writer, c io.Closer) {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
	out, closer = w, c
	enabled = true
	writeLocked("debug", "=== trance-studio debug log ===")
}

// Disable stops logging and closes the log file
func Disable() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
	enabled = false
}

func closeLocked() {
	if closer != nil {
		closer.Close()
		closer = nil
	}
	out = nil
}

// Enabled reports whether Log writes anywhere
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Log writes one line under category
func Log(category, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if !enabled || out == nil {
		return
	}
	writeLocked(category, fmt.Sprintf(format, args...))
}

func writeLocked(category, msg string) {
	ts := time.Now().Format("15:04:05.000")
	fmt.Fprintf(out, "[%s] %-10s %s\n", ts, category, msg)
	if f, ok := out.(*os.File); ok {
		f.Sync() // visible even after a crash
	}
}

// LogEvery logs only every nth call with the same category and format,
// for per-tick events
func LogEvery(n int, category, format string, args ...any) {
	mu.Lock()
	if !enabled {
		mu.Unlock()
		return
	}
	key := category + format
	counters[key]++
	count := counters[key]
	mu.Unlock()

	if count%n == 0 {
		Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}

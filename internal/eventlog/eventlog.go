// Package eventlog provides the structured JSONL event sink shared by
// every adapter, grounded on tools/si/internal/apibridge's JSONLLogger
// contract (exercised by its logging_test.go, whose implementation file
// was not present in the retrieval pack) and re-exported the way
// tools/si/internal/stripebridge aliases it for its own package.
package eventlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger is the contract every adapter logs structured events through.
// Matches tools/si/internal/githubbridge.EventLogger.
type Logger interface {
	Log(event map[string]any)
}

// NopLogger discards every event; used where no log path is configured.
type NopLogger struct{}

func (NopLogger) Log(map[string]any) {}

// JSONLLogger appends one JSON object per line to a file, auto-creating
// parent directories on first write and stamping a "ts" field.
type JSONLLogger struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewJSONLLogger returns a logger writing to path. The file is opened
// lazily on the first Log call so a configured-but-unused logger never
// touches the filesystem.
func NewJSONLLogger(path string) *JSONLLogger {
	return &JSONLLogger{path: path}
}

func (l *JSONLLogger) open() error {
	if l.f != nil {
		return nil
	}
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.f = f
	return nil
}

// Log writes one JSON line. Failures are swallowed: event logging is a
// best-effort observability surface, never a reason to fail a pipeline run.
func (l *JSONLLogger) Log(event map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.open(); err != nil {
		return
	}
	stamped := make(map[string]any, len(event)+1)
	for k, v := range event {
		stamped[k] = v
	}
	if _, ok := stamped["ts"]; !ok {
		stamped["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	line, err := json.Marshal(stamped)
	if err != nil {
		return
	}
	line = append(line, '\n')
	_, _ = l.f.Write(line)
}

// Close releases the underlying file handle, if opened.
func (l *JSONLLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

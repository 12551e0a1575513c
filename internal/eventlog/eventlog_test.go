package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestJSONLLogger_WritesOneLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "events.jsonl")
	l := NewJSONLLogger(path)
	l.Log(map[string]any{"event": "request", "k": "v"})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatalf("expected 1 line")
	}
	var obj map[string]any
	if err := json.Unmarshal(sc.Bytes(), &obj); err != nil {
		t.Fatalf("json: %v", err)
	}
	if obj["event"] != "request" || obj["k"] != "v" {
		t.Fatalf("unexpected object: %#v", obj)
	}
	if _, ok := obj["ts"]; !ok {
		t.Fatalf("expected ts field")
	}
	if sc.Scan() {
		t.Fatalf("expected exactly 1 line")
	}
}

func TestNopLogger_NeverPanics(t *testing.T) {
	var l NopLogger
	l.Log(map[string]any{"anything": true})
}

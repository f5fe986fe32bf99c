package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// Buffer is a goroutine-safe io.Writer that collects JSON log records.
// Tests use it to assert on what a component logged.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewBufferLogger returns a debug-level JSON logger writing into a new Buffer.
func NewBufferLogger() (*slog.Logger, *Buffer) {
	b := &Buffer{}
	return slog.New(slog.NewJSONHandler(b, &slog.HandlerOptions{Level: slog.LevelDebug})), b
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Entries decodes every line written so far. Lines that are not valid JSON
// are skipped.
func (b *Buffer) Entries() []map[string]any {
	lines := strings.Split(b.String(), "\n")
	entries := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// Find returns the first record whose msg equals msg.
func (b *Buffer) Find(msg string) (map[string]any, bool) {
	for _, e := range b.Entries() {
		if e["msg"] == msg {
			return e, true
		}
	}
	return nil, false
}

// Package log provides logger adapters for internal use.
package log

import (
	"sync"

	"github.com/bft-labs/claimship/internal/ports"
)

// Entry is one captured log call.
type Entry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// CaptureLogger implements ports.Logger by keeping every entry in memory.
// It backs tests that assert on what a component logged.
type CaptureLogger struct {
	mu      sync.Mutex
	entries []Entry
}

// NewCaptureLogger creates an empty capture logger.
func NewCaptureLogger() *CaptureLogger {
	return &CaptureLogger{}
}

// Debug captures a debug entry.
func (c *CaptureLogger) Debug(msg string, fields ...ports.Field) { c.add("debug", msg, fields) }

// Info captures an info entry.
func (c *CaptureLogger) Info(msg string, fields ...ports.Field) { c.add("info", msg, fields) }

// Warn captures a warning entry.
func (c *CaptureLogger) Warn(msg string, fields ...ports.Field) { c.add("warn", msg, fields) }

// Error captures an error entry.
func (c *CaptureLogger) Error(msg string, fields ...ports.Field) { c.add("error", msg, fields) }

func (c *CaptureLogger) add(level, msg string, fields []ports.Field) {
	e := Entry{Level: level, Message: msg, Fields: make(map[string]any, len(fields))}
	for _, f := range fields {
		e.Fields[f.Key] = f.Value
	}
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

// Entries returns a copy of the captured entries.
func (c *CaptureLogger) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Find returns the first entry with msg, if any.
func (c *CaptureLogger) Find(msg string) (Entry, bool) {
	for _, e := range c.Entries() {
		if e.Message == msg {
			return e, true
		}
	}
	return Entry{}, false
}

// Count returns how many entries were captured at level.
func (c *CaptureLogger) Count(level string) int {
	n := 0
	for _, e := range c.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

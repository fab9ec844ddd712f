// Package logging writes structured JSON events for the execution core.
// The core emits decisions and lifecycle events; recording them durably
// is the embedding application's concern, so the logger only needs a sink.
package logging

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategoryExec     Category = "exec"
	CategoryApproval Category = "approval"
	CategorySandbox  Category = "sandbox"
	CategoryAnalyze  Category = "analyze"
)

// Event represents a structured log event
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Logger writes structured events to a sink. Safe for concurrent use.
// A nil *Logger discards all events, so components may hold one
// unconditionally.
type Logger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// New creates a logger writing JSON lines to w.
func New(w io.Writer) *Logger {
	return &Logger{w: w, now: time.Now}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return nil
}

// Emit writes a fully-specified event.
func (l *Logger) Emit(ev Event) {
	if l == nil || l.w == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(payload)
	l.w.Write([]byte("\n"))
}

// Log emits an event with the given shape.
func (l *Logger) Log(level Level, category Category, eventType, message string, details map[string]any) {
	l.Emit(Event{
		Level:     level,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Debug emits a debug-level event.
func (l *Logger) Debug(category Category, eventType, message string, details map[string]any) {
	l.Log(LevelDebug, category, eventType, message, details)
}

// Info emits an info-level event.
func (l *Logger) Info(category Category, eventType, message string, details map[string]any) {
	l.Log(LevelInfo, category, eventType, message, details)
}

// Warn emits a warn-level event.
func (l *Logger) Warn(category Category, eventType, message string, details map[string]any) {
	l.Log(LevelWarn, category, eventType, message, details)
}

// Error emits an error-level event.
func (l *Logger) Error(category Category, eventType, message string, details map[string]any) {
	l.Log(LevelError, category, eventType, message, details)
}

// WithSession returns a logger that stamps every event with sessionID.
func (l *Logger) WithSession(sessionID string) *SessionLogger {
	return &SessionLogger{logger: l, sessionID: sessionID}
}

// SessionLogger decorates events with a session id.
type SessionLogger struct {
	logger    *Logger
	sessionID string
}

// Log emits an event carrying the session id.
func (s *SessionLogger) Log(level Level, category Category, eventType, message string, details map[string]any) {
	if s == nil {
		return
	}
	s.logger.Emit(Event{
		Level:     level,
		Category:  category,
		EventType: eventType,
		SessionID: s.sessionID,
		Message:   message,
		Details:   details,
	})
}

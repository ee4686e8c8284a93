// Package logger provides the operator-facing status feed (a thread-safe
// in-memory ring of recent messages shown on the dashboard) and the process
// wide structured logging setup.
package logger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message represents a single log message
type Message struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Level     string    `json:"level"` // info, warning, error
}

// Logger manages in-memory log messages. Every message is also written to
// the structured process log.
type Logger struct {
	mu       sync.RWMutex
	messages []Message
	maxSize  int
	sink     *slog.Logger
	now      func() time.Time
}

// New creates a new logger with specified max message count
func New(maxSize int) *Logger {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Logger{
		messages: make([]Message, 0, maxSize),
		maxSize:  maxSize,
		sink:     slog.Default().With("component", "feed"),
		now:      time.Now,
	}
}

// WithSink mirrors feed messages to the given structured logger.
func (l *Logger) WithSink(sink *slog.Logger) *Logger {
	if sink != nil {
		l.sink = sink.With("component", "feed")
	}
	return l
}

// Log adds a new message to the logger
func (l *Logger) Log(level, text string) {
	l.mu.Lock()
	msg := Message{
		ID:        uuid.NewString(),
		Timestamp: l.now(),
		Text:      text,
		Level:     level,
	}

	l.messages = append(l.messages, msg)

	// Keep only the last maxSize messages
	if len(l.messages) > l.maxSize {
		l.messages = l.messages[len(l.messages)-l.maxSize:]
	}
	l.mu.Unlock()

	switch level {
	case "error":
		l.sink.Error(text)
	case "warning":
		l.sink.Warn(text)
	default:
		l.sink.Info(text)
	}
}

// Info logs an info-level message
func (l *Logger) Info(text string) {
	l.Log("info", text)
}

// Warning logs a warning-level message
func (l *Logger) Warning(text string) {
	l.Log("warning", text)
}

// Error logs an error-level message
func (l *Logger) Error(text string) {
	l.Log("error", text)
}

// GetRecent returns the most recent n messages (newest first)
func (l *Logger) GetRecent(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.messages) {
		n = len(l.messages)
	}
	if n < 0 {
		n = 0
	}

	result := make([]Message, n)
	for i := 0; i < n; i++ {
		result[i] = l.messages[len(l.messages)-1-i]
	}

	return result
}

// Since returns messages newer than the message with the given id, oldest
// first. An unknown or empty id returns the whole buffer.
func (l *Logger) Since(id string) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := 0
	if id != "" {
		for i := len(l.messages) - 1; i >= 0; i-- {
			if l.messages[i].ID == id {
				start = i + 1
				break
			}
		}
	}
	out := make([]Message, len(l.messages)-start)
	copy(out, l.messages[start:])
	return out
}

// GetAll returns all messages (newest first)
func (l *Logger) GetAll() []Message {
	return l.GetRecent(l.maxSize)
}

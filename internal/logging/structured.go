// Package logging provides structured JSON logging for foreman components.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
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

// Event represents a structured log event
type Event struct {
	Timestamp string         `json:"ts"`
	Level     Level          `json:"level"`
	Component string         `json:"component"`
	Event     string         `json:"event"`
	Packet    string         `json:"packet,omitempty"`
	Subtask   string         `json:"subtask,omitempty"`
	Worker    string         `json:"worker,omitempty"`
	Duration  int64          `json:"duration_ms,omitempty"`
	Error     string         `json:"error,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Logger provides structured logging
type Logger struct {
	component string
	packet    string
	subtask   string
	worker    string
	out       io.Writer
	mu        *sync.Mutex
}

// New creates a new logger for a component. Events go to stderr.
func New(component string) *Logger {
	return &Logger{
		component: component,
		worker:    os.Getenv("FOREMAN_WORKER_ID"),
		out:       os.Stderr,
		mu:        &sync.Mutex{},
	}
}

// NewWithOutput creates a logger writing to the given writer (for testing).
func NewWithOutput(component string, out io.Writer) *Logger {
	return &Logger{component: component, out: out, mu: &sync.Mutex{}}
}

// WithPacket sets the packet context
func (l *Logger) WithPacket(packet string) *Logger {
	c := *l
	c.packet = packet
	return &c
}

// WithSubtask sets the subtask context
func (l *Logger) WithSubtask(subtask string) *Logger {
	c := *l
	c.subtask = subtask
	return &c
}

// WithWorker sets the worker context
func (l *Logger) WithWorker(worker string) *Logger {
	c := *l
	c.worker = worker
	return &c
}

// log emits a structured log event
func (l *Logger) log(level Level, event string, extra map[string]any, err error) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: l.component,
		Event:     event,
		Packet:    l.packet,
		Subtask:   l.subtask,
		Worker:    l.worker,
		Extra:     extra,
	}

	if err != nil {
		e.Error = err.Error()
	}

	data, _ := json.Marshal(e)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]any) {
	l.log(LevelDebug, event, extra, nil)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]any) {
	l.log(LevelInfo, event, extra, nil)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]any, err error) {
	l.log(LevelWarn, event, extra, err)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]any, err error) {
	l.log(LevelError, event, extra, err)
}

// TimedEvent logs an info event with duration since start
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]any) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     LevelInfo,
		Component: l.component,
		Event:     event,
		Packet:    l.packet,
		Subtask:   l.subtask,
		Worker:    l.worker,
		Duration:  time.Since(start).Milliseconds(),
		Extra:     extra,
	}

	data, _ := json.Marshal(e)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

// Package render provides output formatting for CLI commands.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Writer wraps an io.Writer with formatting utilities.
type Writer struct {
	out io.Writer
}

// NewWriter creates a Writer that writes to the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: w}
}

// Stdout returns a Writer that writes to os.Stdout.
func Stdout() *Writer {
	return NewWriter(os.Stdout)
}

// Print writes formatted text.
func (w *Writer) Print(format string, args ...any) {
	fmt.Fprintf(w.out, format, args...)
}

// Println writes formatted text with newline.
func (w *Writer) Println(format string, args ...any) {
	fmt.Fprintf(w.out, format+"\n", args...)
}

// Line writes a blank line.
func (w *Writer) Line() {
	fmt.Fprintln(w.out)
}

// Section writes a section header.
func (w *Writer) Section(title string) {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, strings.ToUpper(title)+":")
}

// Item writes an indented item line.
func (w *Writer) Item(format string, args ...any) {
	fmt.Fprintf(w.out, "  "+format+"\n", args...)
}

// Nested writes a nested item with tree connector.
func (w *Writer) Nested(format string, args ...any) {
	fmt.Fprintf(w.out, "    └─ "+format+"\n", args...)
}

// ExecIcon returns the icon for a subtask execution status.
func ExecIcon(exec string) string {
	switch exec {
	case "success":
		return "✓"
	case "failed":
		return "✗"
	case "blocked":
		return "⊘"
	case "running":
		return "▸"
	default:
		return "•"
	}
}

// SeverityIcon returns the icon for a finding severity.
func SeverityIcon(severity string) string {
	switch severity {
	case "critical":
		return "◉"
	case "major":
		return "●"
	case "minor":
		return "○"
	default:
		return "•"
	}
}

// HealthIcon returns the icon for a worker health classification.
func HealthIcon(health string) string {
	switch health {
	case "healthy":
		return "✓"
	case "slow":
		return "◐"
	case "stuck":
		return "✗"
	case "blocked":
		return "⊘"
	default:
		return "•"
	}
}

// Truncate shortens a string to max length.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

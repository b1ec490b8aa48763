package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger prints the supervisor's timestamped progress lines:
//
//	[15:04:05] ℹ launching agent (iteration 1)
//
// Output is colored only when the lipgloss profile allows it.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewLogger returns a logger writing to w (stderr when nil).
func NewLogger(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{out: w, now: time.Now}
}

func (l *Logger) Info(format string, args ...any) {
	l.line(RenderAccent(IconInfo), fmt.Sprintf(format, args...))
}

func (l *Logger) Success(format string, args ...any) {
	l.line(RenderPass(IconPass), fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	l.line(RenderWarn(IconWarn), RenderWarn(fmt.Sprintf(format, args...)))
}

func (l *Logger) Error(format string, args ...any) {
	l.line(RenderFail(IconFail), RenderFail(fmt.Sprintf(format, args...)))
}

// Detail prints an indented muted line without a timestamp.
func (l *Logger) Detail(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "           %s\n", RenderMuted(fmt.Sprintf(format, args...)))
}

func (l *Logger) line(icon, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := RenderMuted("[" + l.now().Format("15:04:05") + "]")
	fmt.Fprintf(l.out, "%s %s %s\n", ts, icon, msg)
}

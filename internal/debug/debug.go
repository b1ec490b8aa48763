// Package debug holds respawn's verbose tracing and the append-only
// events log under .respawn/.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("RESPAWN_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMutex    sync.Mutex

	stderr io.Writer = os.Stderr
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(stderr, format, args...)
	}
}

// EventLog appends supervisor events to a file.
// Format: TIMESTAMP|EVENT|RUN_ID|DETAILS
type EventLog struct {
	Path string
}

// NewEventLog returns a log at <dir>/events.log.
func NewEventLog(dir string) *EventLog {
	return &EventLog{Path: filepath.Join(dir, "events.log")}
}

// Log writes one entry. Failures are swallowed: the events log must never
// interrupt supervision.
func (l *EventLog) Log(event, runID, details string) {
	if l == nil || l.Path == "" {
		return
	}
	if runID == "" {
		runID = "none"
	}
	// Keep one entry per line.
	details = strings.ReplaceAll(details, "\n", " ")

	timestamp := time.Now().UTC().Format(time.RFC3339)
	entry := fmt.Sprintf("%s|%s|%s|%s\n", timestamp, event, runID, details)

	logMutex.Lock()
	defer logMutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		Logf("events log: %v\n", err)
		return
	}
	// #nosec G304 -- path is derived from the configured state directory
	file, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		Logf("events log: %v\n", err)
		return
	}
	defer file.Close()

	_, _ = file.WriteString(entry)
}

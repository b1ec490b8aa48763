// Package hooks runs user scripts at supervisor lifecycle points.
// Hooks are executables named on_<event> in the hooks directory
// (.respawn/hooks by default). Each receives the event payload as JSON on
// stdin and RESPAWN_EVENT / RESPAWN_RUN_ID in its environment.
package hooks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Event types
const (
	EventStart    = "start"
	EventRestart  = "restart"
	EventComplete = "complete"
	EventAbandon  = "abandon"
	EventCeiling  = "ceiling"
)

// Events lists every lifecycle event in the order a run can emit them.
var Events = []string{EventStart, EventRestart, EventComplete, EventAbandon, EventCeiling}

// Payload is the JSON document written to a hook's stdin.
type Payload struct {
	Event     string    `json:"event"`
	RunID     string    `json:"run_id"`
	Goal      string    `json:"goal,omitempty"`
	Iteration int       `json:"iteration"`
	SpecPath  string    `json:"spec_path,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}

// Runner handles hook execution
type Runner struct {
	hooksDir string
	timeout  time.Duration
}

// NewRunner creates a new hook runner for hooksDir.
func NewRunner(hooksDir string) *Runner {
	return &Runner{
		hooksDir: hooksDir,
		timeout:  10 * time.Second,
	}
}

// WithTimeout overrides the per-hook timeout.
func (r *Runner) WithTimeout(d time.Duration) *Runner {
	r.timeout = d
	return r
}

// RunSync executes the hook for p.Event if it exists and waits for it.
// A missing or non-executable hook is skipped silently.
func (r *Runner) RunSync(ctx context.Context, p Payload) error {
	if r == nil {
		return nil
	}
	hookPath, ok := r.lookup(p.Event)
	if !ok {
		return nil
	}
	if p.Time.IsZero() {
		p.Time = time.Now().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.runHook(ctx, hookPath, p, data)
}

// HookExists checks if a hook exists for an event
func (r *Runner) HookExists(event string) bool {
	_, ok := r.lookup(event)
	return ok
}

func (r *Runner) lookup(event string) (string, bool) {
	hookName := eventToHook(event)
	if hookName == "" || r.hooksDir == "" {
		return "", false
	}

	hookPath := filepath.Join(r.hooksDir, hookName)
	info, err := os.Stat(hookPath)
	if err != nil || info.IsDir() {
		return "", false
	}
	if info.Mode()&0111 == 0 {
		return "", false
	}
	return hookPath, true
}

func hookEnv(p Payload) []string {
	return append(os.Environ(),
		"RESPAWN_EVENT="+p.Event,
		"RESPAWN_RUN_ID="+p.RunID,
	)
}

func eventToHook(event string) string {
	switch event {
	case EventStart, EventRestart, EventComplete, EventAbandon, EventCeiling:
		return "on_" + event
	default:
		return ""
	}
}

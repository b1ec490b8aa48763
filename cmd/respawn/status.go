package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/respawn/internal/config"
	"github.com/steveyegge/respawn/internal/lockfile"
	"github.com/steveyegge/respawn/internal/loop"
	"github.com/steveyegge/respawn/internal/statestore"
	"github.com/steveyegge/respawn/internal/types"
	"github.com/steveyegge/respawn/internal/ui"
)

// Verdicts shown by status.
const (
	verdictIdle       = "idle"
	verdictPending    = "restart pending"
	verdictInProgress = "in progress"
	verdictComplete   = "complete"
)

type stateReport struct {
	Path       string `json:"path" yaml:"path" toml:"path"`
	Phase      string `json:"phase" yaml:"phase" toml:"phase"`
	TaskIndex  int    `json:"task_index" yaml:"task_index" toml:"task_index"`
	TotalTasks int    `json:"total_tasks" yaml:"total_tasks" toml:"total_tasks"`
	SpecPath   string `json:"spec_path" yaml:"spec_path" toml:"spec_path"`
}

type markerReport struct {
	Path        string `json:"path" yaml:"path" toml:"path"`
	SpecPath    string `json:"spec_path" yaml:"spec_path" toml:"spec_path"`
	Instruction string `json:"instruction" yaml:"instruction" toml:"instruction"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty" toml:"reason,omitempty"`
}

type lockReport struct {
	PID       int       `json:"pid" yaml:"pid" toml:"pid"`
	RunID     string    `json:"run_id" yaml:"run_id" toml:"run_id"`
	Goal      string    `json:"goal,omitempty" yaml:"goal,omitempty" toml:"goal,omitempty"`
	StartedAt time.Time `json:"started_at" yaml:"started_at" toml:"started_at"`
}

type statusReport struct {
	SpecDir  string        `json:"spec_dir" yaml:"spec_dir" toml:"spec_dir"`
	Verdict  string        `json:"verdict" yaml:"verdict" toml:"verdict"`
	Complete bool          `json:"complete" yaml:"complete" toml:"complete"`
	State    *stateReport  `json:"state,omitempty" yaml:"state,omitempty" toml:"state,omitempty"`
	Marker   *markerReport `json:"marker,omitempty" yaml:"marker,omitempty" toml:"marker,omitempty"`
	Lock     *lockReport   `json:"lock,omitempty" yaml:"lock,omitempty" toml:"lock,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var (
		jsonOut  bool
		format   string
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the workflow state and any pending restart request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmtName, err := resolveFormat(format, jsonOut)
			if err != nil {
				return err
			}
			applyFlagOverrides(cmd)
			s, err := config.Load()
			if err != nil {
				return err
			}

			snap, err := statestore.New(s.SpecDir).Load()
			if err != nil {
				return err
			}
			report := buildStatusReport(s.SpecDir, snap)
			if info, err := lockfile.ReadLockInfo(s.StateDir); err == nil && info.RunID != "" {
				report.Lock = &lockReport{PID: info.PID, RunID: info.RunID, Goal: info.Goal, StartedAt: info.StartedAt}
			}

			out := cmd.OutOrStdout()
			if fmtName != formatText {
				return writeStructured(out, fmtName, report)
			}
			printStatus(out, report)
			if progress {
				printProgress(out, snap)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json, yaml or toml")
	cmd.Flags().BoolVar(&progress, "progress", false, "Render the spec's progress notes")
	return cmd
}

func buildStatusReport(specDir string, snap types.Snapshot) statusReport {
	r := statusReport{SpecDir: specDir}
	if st := snap.State; st != nil {
		r.State = &stateReport{
			Path:       st.Path,
			Phase:      string(st.Phase),
			TaskIndex:  st.TaskIndex,
			TotalTasks: st.TotalTasks,
			SpecPath:   st.SpecPath,
		}
	}
	if m := snap.Marker; m != nil {
		r.Marker = &markerReport{Path: m.Path, SpecPath: m.SpecPath, Instruction: m.Instruction, Reason: m.Reason}
	}

	switch {
	case snap.Marker != nil:
		r.Verdict = verdictPending
	case snap.State == nil:
		r.Verdict = verdictIdle
	case loop.IsComplete(snap.State):
		r.Verdict = verdictComplete
		r.Complete = true
	default:
		r.Verdict = verdictInProgress
	}
	return r
}

func printStatus(w io.Writer, r statusReport) {
	fmt.Fprintf(w, "%s %s\n", ui.RenderCategory("Spec dir"), r.SpecDir)
	fmt.Fprintln(w, ui.RenderSeparator())

	if st := r.State; st != nil {
		pos := st.Phase
		if st.TotalTasks > 0 {
			pos = fmt.Sprintf("%s, task %d of %d", st.Phase, min(st.TaskIndex+1, st.TotalTasks), st.TotalTasks)
		}
		fmt.Fprintf(w, "  State    %s %s\n", pos, ui.RenderMuted("("+st.Path+")"))
		if st.SpecPath != "" {
			fmt.Fprintf(w, "  Spec     %s\n", st.SpecPath)
		}
	} else {
		fmt.Fprintf(w, "  State    %s\n", ui.RenderMuted("none"))
	}

	if m := r.Marker; m != nil {
		line := fmt.Sprintf("%q", ui.TruncateSimple(m.Instruction, 80))
		if m.Reason != "" {
			line += ui.RenderMuted(" (reason: " + m.Reason + ")")
		}
		fmt.Fprintf(w, "  Restart  %s %s\n", ui.RenderWarn(ui.IconWarn), line)
	}

	var verdict string
	switch r.Verdict {
	case verdictComplete:
		verdict = ui.RenderPass(ui.IconPass + " " + r.Verdict)
	case verdictPending:
		verdict = ui.RenderWarn(ui.IconWarn + " " + r.Verdict)
	case verdictInProgress:
		verdict = ui.RenderAccent(ui.IconStep + " " + r.Verdict)
	default:
		verdict = ui.RenderMuted(r.Verdict)
	}
	fmt.Fprintf(w, "  Verdict  %s\n", verdict)

	if l := r.Lock; l != nil {
		fmt.Fprintf(w, "  Lock     pid %d, run %s, since %s\n", l.PID, l.RunID, l.StartedAt.Local().Format(time.Kitchen))
	}
}

func printProgress(w io.Writer, snap types.Snapshot) {
	dir := progressDir(snap)
	if dir == "" {
		return
	}
	path := filepath.Join(dir, types.ProgressFileName)
	// #nosec G304 -- path is derived from the agent's own spec path
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(w, "\n%s\n", ui.RenderMuted("no progress notes at "+path))
			return
		}
		fmt.Fprintf(w, "\n%s\n", ui.RenderWarn(err.Error()))
		return
	}
	fmt.Fprintln(w)
	fmt.Fprint(w, ui.RenderMarkdown(string(data)))
}

func progressDir(snap types.Snapshot) string {
	switch {
	case snap.State != nil && snap.State.SpecPath != "":
		return snap.State.SpecPath
	case snap.State != nil:
		return filepath.Dir(snap.State.Path)
	case snap.Marker != nil && snap.Marker.SpecPath != "":
		return snap.Marker.SpecPath
	case snap.Marker != nil:
		return filepath.Dir(snap.Marker.Path)
	}
	return ""
}

package loop

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/steveyegge/respawn/internal/types"
)

// DefaultNamespace is the command namespace of the workflow plugin.
const DefaultNamespace = "specflow"

// PromptKind identifies which branch of the synthesizer produced a prompt.
type PromptKind int

const (
	PromptInitial PromptKind = iota
	PromptMarkerResume
	PromptStateResume
)

func (k PromptKind) String() string {
	switch k {
	case PromptInitial:
		return "initial"
	case PromptMarkerResume:
		return "marker-resume"
	case PromptStateResume:
		return "state-resume"
	default:
		return "unknown"
	}
}

// PromptInput is everything the synthesizer looks at.
type PromptInput struct {
	Iteration int
	Goal      string
	Options   []string
	Namespace string
	Snapshot  types.Snapshot
}

// Prompt is the instruction for one agent invocation. When ConsumeMarker is
// set the caller must delete Marker before launching the agent.
type Prompt struct {
	Kind          PromptKind
	Text          string
	SpecPath      string
	ConsumeMarker bool
	Marker        *types.RestartMarker
}

// Synthesize builds the prompt for an iteration. It returns false when
// iteration > 0 and there is neither a marker nor a state record: there is
// nothing to resume and the agent must not be relaunched.
//
// Iteration 0 always frames the original goal, even if stray records are
// lying around from an earlier run.
func Synthesize(in PromptInput) (Prompt, bool) {
	ns := in.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}

	if in.Iteration == 0 {
		return Prompt{Kind: PromptInitial, Text: initialPrompt(ns, in.Goal, in.Options)}, true
	}

	snap := in.Snapshot
	if m := snap.Marker; m != nil {
		spec := markerSpecPath(m, snap.State)
		return Prompt{
			Kind:          PromptMarkerResume,
			Text:          markerPrompt(ns, spec, m.Instruction),
			SpecPath:      spec,
			ConsumeMarker: true,
			Marker:        m,
		}, true
	}

	if st := snap.State; st != nil {
		spec := stateSpecPath(st)
		return Prompt{
			Kind:     PromptStateResume,
			Text:     statePrompt(spec, st),
			SpecPath: spec,
		}, true
	}

	return Prompt{}, false
}

func initialPrompt(ns, goal string, options []string) string {
	parts := []string{fmt.Sprintf("/%s:start", ns), strconv.Quote(goal)}
	parts = append(parts, options...)
	return strings.Join(parts, " ")
}

func markerPrompt(ns, spec, instruction string) string {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = "Continue with the next task."
	}

	var b strings.Builder
	b.WriteString("Your context was reset so the workflow can continue with a fresh window. ")
	b.WriteString("Pick up exactly where the previous session stopped.\n\n")
	b.WriteString("Instruction from the previous session:\n")
	b.WriteString(instruction)
	b.WriteString("\n\n")
	writeFileList(&b, spec)
	fmt.Fprintf(&b, "\nThen run: /%s:implement\n", ns)
	return b.String()
}

func statePrompt(spec string, st *types.WorkflowState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Resume the workflow in %s.\n", spec)
	fmt.Fprintf(&b, "Current position: %s.\n\n", describePosition(st))
	writeFileList(&b, spec)
	b.WriteString("\nContinue from the current phase and task. Do not restart completed work.\n")
	return b.String()
}

func writeFileList(b *strings.Builder, spec string) {
	b.WriteString("Restore context from these files:\n")
	fmt.Fprintf(b, "- %s (phase and task cursor)\n", filepath.Join(spec, types.StateFileName))
	fmt.Fprintf(b, "- %s (accumulated progress notes)\n", filepath.Join(spec, types.ProgressFileName))
	fmt.Fprintf(b, "- %s (task list)\n", filepath.Join(spec, types.TasksFileName))
}

func describePosition(st *types.WorkflowState) string {
	phase := string(st.Phase)
	if phase == "" {
		phase = "unknown phase"
	}
	if st.Phase == types.PhaseExecution && st.TotalTasks > 0 {
		return fmt.Sprintf("%s, task %d of %d", phase, st.TaskIndex+1, st.TotalTasks)
	}
	return phase
}

// markerSpecPath prefers the marker's own path, then the state record's,
// then the directory the marker was found in.
func markerSpecPath(m *types.RestartMarker, st *types.WorkflowState) string {
	if m.SpecPath != "" {
		return m.SpecPath
	}
	if st != nil && st.SpecPath != "" {
		return st.SpecPath
	}
	if m.Path != "" {
		return filepath.Dir(m.Path)
	}
	return "."
}

func stateSpecPath(st *types.WorkflowState) string {
	if st.SpecPath != "" {
		return st.SpecPath
	}
	if st.Path != "" {
		return filepath.Dir(st.Path)
	}
	return "."
}

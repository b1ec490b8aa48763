// Package types defines the records exchanged between respawn and the agent
// it supervises.
package types

// Phase is a named stage of the workflow.
type Phase string

// Workflow phases written by the agent. Only PhaseExecution is meaningful to
// the supervisor; the others are listed for display.
const (
	PhaseResearch     Phase = "research"
	PhaseRequirements Phase = "requirements"
	PhaseDesign       Phase = "design"
	PhaseTasks        Phase = "tasks"
	PhaseExecution    Phase = "execution"
)

// Canonical file names inside a spec directory.
const (
	StateFileName    = ".workflow-state.json"
	MarkerFileName   = ".restart-request.json"
	ProgressFileName = ".progress.md"
	TasksFileName    = "tasks.md"
)

// WorkflowState is the agent's persisted workflow cursor. The supervisor
// reads it but never writes it.
type WorkflowState struct {
	Phase      Phase  `json:"phase"`
	TaskIndex  int    `json:"taskIndex"`
	TotalTasks int    `json:"totalTasks"`
	SpecPath   string `json:"specPath"`

	Path        string `json:"-"` // file the record was read from
	Fingerprint string `json:"-"` // BLAKE3 of the raw file bytes
}

// RestartMarker is the agent's one-shot request to be relaunched with a
// fresh context.
type RestartMarker struct {
	SpecPath    string `json:"specPath"`
	Instruction string `json:"instruction"`
	Reason      string `json:"reason"` // logged only

	Path        string `json:"-"`
	Fingerprint string `json:"-"`
}

// Snapshot is one scan of the spec directory.
type Snapshot struct {
	State  *WorkflowState
	Marker *RestartMarker
}

// Empty reports whether neither record was found.
func (s Snapshot) Empty() bool {
	return s.State == nil && s.Marker == nil
}


package loop

import "github.com/steveyegge/respawn/internal/types"

// IsComplete reports whether the workflow has finished. A missing state
// record counts as finished: the agent removes it when it is done, and a
// workflow that never started has nothing to finish either.
//
// totalTasks must be positive so that a freshly initialized record, where
// both counters are zero, is not mistaken for a completed one.
func IsComplete(st *types.WorkflowState) bool {
	if st == nil {
		return true
	}
	return st.Phase == types.PhaseExecution &&
		st.TotalTasks > 0 &&
		st.TaskIndex >= st.TotalTasks
}

// workflowDone is the controller's view of completion for a full snapshot.
// A present state record decides on its own. Without one, a pending restart
// marker still has to be honored.
func workflowDone(snap types.Snapshot) bool {
	if snap.State != nil {
		return IsComplete(snap.State)
	}
	return snap.Marker == nil
}

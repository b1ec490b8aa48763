package loop

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/respawn/internal/types"
)

func TestSynthesize_Initial(t *testing.T) {
	stray := types.Snapshot{
		State:  &types.WorkflowState{Phase: types.PhaseExecution, TaskIndex: 1, TotalTasks: 4, SpecPath: "/old/spec"},
		Marker: &types.RestartMarker{SpecPath: "/old/spec", Instruction: "stale instruction"},
	}

	p, ok := Synthesize(PromptInput{
		Iteration: 0,
		Goal:      "Add OAuth login",
		Options:   []string{"--quick", "--auto-restart"},
		Snapshot:  stray,
	})
	require.True(t, ok)
	assert.Equal(t, PromptInitial, p.Kind)
	assert.Equal(t, `/specflow:start "Add OAuth login" --quick --auto-restart`, p.Text)
	assert.False(t, p.ConsumeMarker)
	assert.Nil(t, p.Marker)
	assert.NotContains(t, p.Text, "/old/spec")
	assert.NotContains(t, p.Text, "stale instruction")
}

func TestSynthesize_InitialNamespace(t *testing.T) {
	p, ok := Synthesize(PromptInput{Goal: `say "hi"`, Namespace: "ralph"})
	require.True(t, ok)
	assert.Equal(t, `/ralph:start "say \"hi\""`, p.Text)
}

func TestSynthesize_MarkerResume(t *testing.T) {
	marker := &types.RestartMarker{SpecPath: "/w", Instruction: "continue task 3", Reason: "context limit"}
	p, ok := Synthesize(PromptInput{
		Iteration: 1,
		Goal:      "original goal text",
		Snapshot:  types.Snapshot{Marker: marker},
	})
	require.True(t, ok)
	assert.Equal(t, PromptMarkerResume, p.Kind)
	assert.True(t, p.ConsumeMarker)
	assert.Same(t, marker, p.Marker)
	assert.Equal(t, "/w", p.SpecPath)

	assert.Contains(t, p.Text, "continue task 3")
	assert.Contains(t, p.Text, filepath.Join("/w", types.StateFileName))
	assert.Contains(t, p.Text, filepath.Join("/w", types.ProgressFileName))
	assert.Contains(t, p.Text, filepath.Join("/w", types.TasksFileName))
	assert.Contains(t, p.Text, "/specflow:implement")
	assert.NotContains(t, p.Text, "original goal text")
	assert.NotContains(t, p.Text, "context limit", "reason is for logs only")
}

func TestSynthesize_MarkerWinsOverState(t *testing.T) {
	p, ok := Synthesize(PromptInput{
		Iteration: 2,
		Snapshot: types.Snapshot{
			State:  &types.WorkflowState{Phase: types.PhaseExecution, TaskIndex: 2, TotalTasks: 5, SpecPath: "/state"},
			Marker: &types.RestartMarker{SpecPath: "/marker", Instruction: "do it"},
		},
	})
	require.True(t, ok)
	assert.Equal(t, PromptMarkerResume, p.Kind)
	assert.Equal(t, "/marker", p.SpecPath)
}

func TestSynthesize_MarkerSpecPathFallbacks(t *testing.T) {
	st := &types.WorkflowState{SpecPath: "/from-state"}

	p, _ := Synthesize(PromptInput{Iteration: 1, Snapshot: types.Snapshot{
		State:  st,
		Marker: &types.RestartMarker{Instruction: "x"},
	}})
	assert.Equal(t, "/from-state", p.SpecPath)

	p, _ = Synthesize(PromptInput{Iteration: 1, Snapshot: types.Snapshot{
		Marker: &types.RestartMarker{Path: filepath.Join("specs", "feat", types.MarkerFileName)},
	}})
	assert.Equal(t, filepath.Join("specs", "feat"), p.SpecPath)
	assert.Contains(t, p.Text, "Continue with the next task.")
}

func TestSynthesize_StateResume(t *testing.T) {
	st := &types.WorkflowState{Phase: types.PhaseExecution, TaskIndex: 2, TotalTasks: 5, SpecPath: "/specs/auth"}
	p, ok := Synthesize(PromptInput{Iteration: 3, Goal: "the goal", Snapshot: types.Snapshot{State: st}})
	require.True(t, ok)
	assert.Equal(t, PromptStateResume, p.Kind)
	assert.False(t, p.ConsumeMarker)
	assert.Equal(t, "/specs/auth", p.SpecPath)
	assert.Contains(t, p.Text, "/specs/auth")
	assert.Contains(t, p.Text, "task 3 of 5")
	assert.Contains(t, p.Text, filepath.Join("/specs/auth", types.ProgressFileName))
	assert.NotContains(t, p.Text, "the goal")
}

func TestSynthesize_StateResumeNonExecution(t *testing.T) {
	st := &types.WorkflowState{Phase: types.PhaseDesign, SpecPath: "/s"}
	p, ok := Synthesize(PromptInput{Iteration: 1, Snapshot: types.Snapshot{State: st}})
	require.True(t, ok)
	assert.Contains(t, p.Text, "Current position: design.")
}

func TestSynthesize_NothingToResume(t *testing.T) {
	for _, iter := range []int{1, 2, 49} {
		p, ok := Synthesize(PromptInput{Iteration: iter, Goal: "g"})
		assert.False(t, ok)
		assert.Empty(t, p.Text)
	}
}

func TestSynthesize_ResumptionAlwaysNamesSpecPath(t *testing.T) {
	snaps := []types.Snapshot{
		{Marker: &types.RestartMarker{SpecPath: "/m"}},
		{State: &types.WorkflowState{Phase: types.PhaseTasks, SpecPath: "/s"}},
	}
	for _, snap := range snaps {
		p, ok := Synthesize(PromptInput{Iteration: 1, Snapshot: snap})
		require.True(t, ok)
		assert.True(t, strings.Contains(p.Text, p.SpecPath), "prompt %q missing %q", p.Text, p.SpecPath)
	}
}

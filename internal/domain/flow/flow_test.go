package flow_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
)

func TestStatusTerminal(t *testing.T) {
	require.True(t, flow.StatusCompleted.Terminal())
	require.True(t, flow.StatusFailed.Terminal())
	require.True(t, flow.StatusCancelled.Terminal())
	require.False(t, flow.StatusRunning.Terminal())
	require.False(t, flow.StatusPaused.Terminal())
}

func TestAppendEventTrimsTail(t *testing.T) {
	snap := &flow.Snapshot{}
	now := time.Now().UTC()
	for i := 0; i < flow.DefaultMaxEventsTail+10; i++ {
		snap.AppendEvent("StepCompleted", "step finished", now)
	}
	require.Len(t, snap.Events, flow.DefaultMaxEventsTail)
}

func TestAppendEventHonorsConfiguredTail(t *testing.T) {
	snap := &flow.Snapshot{MaxEventsTail: 5}
	now := time.Now().UTC()
	for i := 0; i < 12; i++ {
		snap.AppendEvent("StepCompleted", "step finished", now)
	}
	require.Len(t, snap.Events, 5)
}

func TestStepByNameFindsAndMutates(t *testing.T) {
	snap := &flow.Snapshot{Steps: []flow.StepInstance{
		{Name: "A", Status: flow.StepPending},
		{Name: "B", Status: flow.StepPending},
	}}
	step := snap.StepByName("B")
	require.NotNil(t, step)
	step.Status = flow.StepCompleted
	require.Equal(t, flow.StepCompleted, snap.StepByName("B").Status)
	require.Nil(t, snap.StepByName("missing"))
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	snap := &flow.Snapshot{
		DataContext: map[string]flow.Value{"x": flow.IntValue("", 1)},
		Steps:       []flow.StepInstance{{Name: "A", StepDependencies: []string{"B"}}},
	}
	clone := snap.Clone()
	clone.DataContext["x"] = flow.IntValue("", 2)
	clone.Steps[0].StepDependencies[0] = "C"

	require.Equal(t, int64(1), snap.DataContext["x"].Int)
	require.Equal(t, "B", snap.Steps[0].StepDependencies[0])
}

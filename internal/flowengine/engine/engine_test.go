package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/internal/flowengine/store"
	"github.com/R3E-Network/flowengine/pkg/config"
	"github.com/R3E-Network/flowengine/pkg/logger"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	return New(&cfg, store.NewMemoryStore(), logger.NewDefault("test"))
}

func noopStep(name string) flow.StepDefinition {
	return flow.StepDefinition{Name: name, Execute: func(ctx flow.ExecContext) flow.StepResult {
		return flow.StepResult{IsSuccess: true}
	}}
}

func TestStartFlowRunsToCompletion(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.RegisterFlowType("Onboarding", []flow.StepDefinition{noopStep("A"), noopStep("B")}))
	require.NoError(t, e.Start(context.Background()))

	snap, err := e.StartFlow(context.Background(), "Onboarding", "corr-1", "user-1", nil)
	require.NoError(t, err)
	require.Equal(t, flow.StatusCompleted, snap.Status)

	got, err := e.Get(context.Background(), snap.FlowID)
	require.NoError(t, err)
	require.Equal(t, flow.StatusCompleted, got.Status)
}

func TestGetUnknownFlowReturnsNotFound(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Start(context.Background()))

	_, err := e.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestBatchAggregatesResults(t *testing.T) {
	e := newTestEngine(t)
	blocking := make(chan struct{})
	defs := []flow.StepDefinition{
		{Name: "A", Execute: func(ctx flow.ExecContext) flow.StepResult {
			<-blocking
			return flow.StepResult{IsSuccess: true}
		}},
	}
	require.NoError(t, e.RegisterFlowType("Slow", defs))
	require.NoError(t, e.Start(context.Background()))

	started := make(chan *flow.Snapshot, 1)
	go func() {
		snap, _ := e.StartFlow(context.Background(), "Slow", "", "", nil)
		started <- snap
	}()

	// Wait until the flow's scheduler is registered before cancelling it.
	var flowID string
	for flowID == "" {
		e.mu.Lock()
		for id := range e.schedulers {
			flowID = id
		}
		e.mu.Unlock()
	}

	result := e.Batch(context.Background(), BatchCancel, []string{flowID})
	require.Len(t, result.Results, 1)
	require.Empty(t, result.Results[0].Error)

	close(blocking)
	<-started
}

func TestStatisticsCountsByStatus(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.RegisterFlowType("Onboarding", []flow.StepDefinition{noopStep("A")}))
	require.NoError(t, e.Start(context.Background()))

	_, err := e.StartFlow(context.Background(), "Onboarding", "", "", nil)
	require.NoError(t, err)

	stats, err := e.Statistics(context.Background(), "Onboarding")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.ByStatus[string(flow.StatusCompleted)])
}

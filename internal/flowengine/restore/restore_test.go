package restore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/internal/flowengine/catalog"
	"github.com/R3E-Network/flowengine/internal/flowengine/store"
	"github.com/R3E-Network/flowengine/pkg/logger"
)

func noop(ctx flow.ExecContext) flow.StepResult { return flow.StepResult{IsSuccess: true} }

func TestScanRehydratesKnownFlow(t *testing.T) {
	cat := catalog.New()
	defs := []flow.StepDefinition{
		{Name: "A", Execute: noop},
		{Name: "B", StepDependencies: []string{"A"}, Execute: noop, Branches: []flow.Branch{
			{Name: "only", IsDefault: true, Steps: []flow.StepDefinition{{Name: "C", Execute: noop}}},
		}},
	}
	require.NoError(t, cat.Register("Onboarding", defs))

	st := store.NewMemoryStore()
	snap := &flow.Snapshot{
		FlowID:      "flow-1",
		FlowType:    "Onboarding",
		Status:      flow.StatusRunning,
		DataContext: map[string]flow.Value{"x": flow.IntValue("", 1)},
		Steps: []flow.StepInstance{
			flow.FromDefinition(defs[0], 0),
			flow.FromDefinition(defs[1], 1),
			flow.FromDefinition(flow.StepDefinition{Name: "C", Execute: noop}, 2),
		},
	}
	require.NoError(t, st.Save(context.Background(), snap, 0))

	svc := New(cat, st, logger.NewDefault("test"))
	rehydrated, drifted, err := svc.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, drifted)
	require.Len(t, rehydrated, 1)
	require.Contains(t, rehydrated[0].Defs, "C")
	v, ok := rehydrated[0].Data.Get("x")
	require.True(t, ok)
	require.Equal(t, int64(1), v.Int)
}

func TestScanReportsUnknownFlowType(t *testing.T) {
	cat := catalog.New()
	st := store.NewMemoryStore()
	snap := &flow.Snapshot{FlowID: "flow-2", FlowType: "GhostFlow", Status: flow.StatusRunning}
	require.NoError(t, st.Save(context.Background(), snap, 0))

	svc := New(cat, st, logger.NewDefault("test"))
	rehydrated, drifted, err := svc.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, rehydrated)
	require.Len(t, drifted, 1)
	require.Equal(t, "flow-2", drifted[0].FlowID)
}

func TestScanReportsMissingStepDrift(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register("Onboarding", []flow.StepDefinition{{Name: "A", Execute: noop}}))

	st := store.NewMemoryStore()
	snap := &flow.Snapshot{
		FlowID:   "flow-3",
		FlowType: "Onboarding",
		Status:   flow.StatusRunning,
		Steps: []flow.StepInstance{
			flow.FromDefinition(flow.StepDefinition{Name: "A", Execute: noop}, 0),
			flow.FromDefinition(flow.StepDefinition{Name: "RemovedStep", Execute: noop}, 1),
		},
	}
	require.NoError(t, st.Save(context.Background(), snap, 0))

	svc := New(cat, st, logger.NewDefault("test"))
	rehydrated, drifted, err := svc.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, rehydrated)
	require.Len(t, drifted, 1)
	require.Equal(t, "RemovedStep", drifted[0].MissingStep)
}

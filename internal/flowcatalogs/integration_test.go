package flowcatalogs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/internal/flowengine/engine"
	"github.com/R3E-Network/flowengine/internal/flowengine/store"
	"github.com/R3E-Network/flowengine/pkg/config"
	"github.com/R3E-Network/flowengine/pkg/logger"
)

func TestKYCAutoApprovedPath(t *testing.T) {
	cfg := config.Default()
	e := engine.New(&cfg, store.NewMemoryStore(), logger.NewDefault("test"))
	require.NoError(t, e.RegisterFlowType(KYCFlowType, KYCSteps()))
	require.NoError(t, e.Start(context.Background()))

	snap, err := e.StartFlow(context.Background(), KYCFlowType, "corr-1", "user-1",
		map[string]flow.Value{"riskScore": flow.IntValue("", 10)})
	require.NoError(t, err)
	require.Equal(t, flow.StatusCompleted, snap.Status)
	require.Equal(t, flow.StepCompleted, snap.StepByName("AutoApprove").Status)
	require.Equal(t, flow.StepSkipped, snap.StepByName("ManualReview").Status)
}

func TestWithdrawalLargeAmountRoutesToSignOff(t *testing.T) {
	cfg := config.Default()
	e := engine.New(&cfg, store.NewMemoryStore(), logger.NewDefault("test"))
	require.NoError(t, e.RegisterFlowType(WithdrawalFlowType, WithdrawalSteps()))
	require.NoError(t, e.Start(context.Background()))

	snap, err := e.StartFlow(context.Background(), WithdrawalFlowType, "corr-2", "user-2",
		map[string]flow.Value{"amount": flow.IntValue("", 25000)})
	require.NoError(t, err)
	require.Equal(t, flow.StatusCompleted, snap.Status)
	require.Equal(t, flow.StepCompleted, snap.StepByName("ManualSignOff").Status)
	require.Equal(t, flow.StepSkipped, snap.StepByName("ReleaseFunds").Status)
}

package retry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/internal/flowengine/store"
	"github.com/R3E-Network/flowengine/pkg/logger"
)

type fakeResumer struct {
	mu      sync.Mutex
	resumed []string
}

func (r *fakeResumer) Resume(ctx context.Context, flowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumed = append(r.resumed, flowID)
	return nil
}

func (r *fakeResumer) seen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.resumed {
		if f == id {
			return true
		}
	}
	return false
}

func TestSweepResumesEligibleFlows(t *testing.T) {
	st := store.NewMemoryStore()
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	due := &flow.Snapshot{
		FlowID: "due", FlowType: "Onboarding", Status: flow.StatusPaused, PauseReason: flow.PauseReasonRetryBackoff,
		Steps: []flow.StepInstance{{Name: "A", Status: flow.StepPaused, ResumeAt: &past}},
	}
	notDue := &flow.Snapshot{
		FlowID: "not-due", FlowType: "Onboarding", Status: flow.StatusPaused, PauseReason: flow.PauseReasonRetryBackoff,
		Steps: []flow.StepInstance{{Name: "A", Status: flow.StepPaused, ResumeAt: &future}},
	}
	operatorPaused := &flow.Snapshot{
		FlowID: "operator", FlowType: "Onboarding", Status: flow.StatusPaused, PauseReason: flow.PauseReasonOperator,
	}
	require.NoError(t, st.Save(context.Background(), due, 0))
	require.NoError(t, st.Save(context.Background(), notDue, 0))
	require.NoError(t, st.Save(context.Background(), operatorPaused, 0))

	resumer := &fakeResumer{}
	svc := New(st, resumer, logger.NewDefault("test"), time.Hour, 5)
	svc.sweep(context.Background())

	require.True(t, resumer.seen("due"))
	require.False(t, resumer.seen("not-due"))
	require.False(t, resumer.seen("operator"))
}

func TestSweepHandlesEmptyBacklog(t *testing.T) {
	st := store.NewMemoryStore()
	resumer := &fakeResumer{}
	svc := New(st, resumer, logger.NewDefault("test"), time.Hour, 5)
	svc.sweep(context.Background())
	require.Empty(t, resumer.resumed)
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
)

func newSnapshot(flowID string, version int64, status flow.Status) *flow.Snapshot {
	return &flow.Snapshot{
		FlowID:      flowID,
		FlowType:    "Onboarding",
		Status:      status,
		CreatedAt:   time.Now(),
		DataContext: map[string]flow.Value{},
		Version:     version,
	}
}

func TestMemoryStoreSaveRejectsStaleVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, newSnapshot("f1", 1, flow.StatusRunning), 0))

	err := s.Save(ctx, newSnapshot("f1", 2, flow.StatusRunning), 0)
	require.ErrorIs(t, err, ErrVersionConflict)

	require.NoError(t, s.Save(ctx, newSnapshot("f1", 2, flow.StatusRunning), 1))
}

func TestMemoryStoreLoadNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Load(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListNonTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, newSnapshot("running", 1, flow.StatusRunning), 0))
	require.NoError(t, s.Save(ctx, newSnapshot("done", 1, flow.StatusCompleted), 0))

	flows, err := s.ListNonTerminal(ctx)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	require.Equal(t, "running", flows[0].FlowID)
}

func TestMemoryStoreListFiltersByCorrelation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := newSnapshot("a", 1, flow.StatusRunning)
	a.CorrelationID = "batch-1"
	b := newSnapshot("b", 1, flow.StatusRunning)
	b.CorrelationID = "batch-2"
	require.NoError(t, s.Save(ctx, a, 0))
	require.NoError(t, s.Save(ctx, b, 0))

	got, err := s.List(ctx, Filter{CorrelationID: "batch-1"}, Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].FlowID)
}

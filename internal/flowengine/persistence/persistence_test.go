package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/internal/flowengine/eventbus"
	"github.com/R3E-Network/flowengine/internal/flowengine/store"
	"github.com/R3E-Network/flowengine/pkg/logger"
)

func TestCommitPublishesEventOnSuccess(t *testing.T) {
	st := store.NewMemoryStore()
	bus := eventbus.New()
	coord := New(st, bus, logger.NewDefault("test"))

	var received eventbus.Event
	bus.SubscribeFlow("flow-1", func(e eventbus.Event) { received = e })

	snap := &flow.Snapshot{FlowID: "flow-1", FlowType: "Onboarding", Status: flow.StatusRunning, Version: 1}
	require.NoError(t, coord.Commit(context.Background(), snap))
	require.Equal(t, eventbus.EventFlowStatusChanged, received.Type)
	require.Equal(t, "flow-1", received.FlowID)
	require.Equal(t, uint64(1), received.Seq)

	loaded, err := coord.Load(context.Background(), "flow-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), loaded.Version)
}

func TestCommitReturnsConflictOnStaleVersion(t *testing.T) {
	st := store.NewMemoryStore()
	bus := eventbus.New()
	coord := New(st, bus, logger.NewDefault("test"))

	first := &flow.Snapshot{FlowID: "flow-2", FlowType: "Onboarding", Status: flow.StatusRunning, Version: 1}
	require.NoError(t, coord.Commit(context.Background(), first))

	stale := &flow.Snapshot{FlowID: "flow-2", FlowType: "Onboarding", Status: flow.StatusRunning, Version: 2}
	require.NoError(t, coord.Commit(context.Background(), stale))

	// Replaying version 2 again (as if a second writer observed version 1
	// and tried to commit its own version 2) must be rejected.
	conflicting := &flow.Snapshot{FlowID: "flow-2", FlowType: "Onboarding", Status: flow.StatusCompleted, Version: 2}
	err := coord.Commit(context.Background(), conflicting)
	require.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestCommitForgetsBusStateOnTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	bus := eventbus.New()
	coord := New(st, bus, logger.NewDefault("test"))

	snap := &flow.Snapshot{FlowID: "flow-3", FlowType: "Onboarding", Status: flow.StatusCompleted, Version: 1}
	require.NoError(t, coord.Commit(context.Background(), snap))

	// A fresh NextSeq after Forget should restart at 1.
	require.Equal(t, uint64(1), bus.NextSeq("flow-3"))
}

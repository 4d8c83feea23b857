// Package persistence implements the Persistence Coordinator (spec §4.4):
// the single place that turns an in-memory scheduler transition into a
// durable, observable fact by writing it through the Durable Store under
// compare-and-swap and then publishing the resulting events on the Event
// Bus. It is the only component in the engine allowed to call
// store.DurableStore.Save.
package persistence

import (
	"context"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/internal/flowengine/eventbus"
	"github.com/R3E-Network/flowengine/internal/flowengine/store"
	"github.com/R3E-Network/flowengine/pkg/logger"
	"github.com/R3E-Network/flowengine/pkg/metrics"
)

// Coordinator commits scheduler transitions durably and publishes the
// resulting events. It satisfies the Commit method of scheduler.Host; the
// engine layer composes it with its own StartChildFlow/MaxBranchDepth to
// build the full scheduler.Host.
type Coordinator struct {
	store store.DurableStore
	bus   *eventbus.Bus
	log   *logger.Logger
	relay *eventbus.Relay
}

// New builds a Coordinator over a backing store and the in-process event bus.
func New(st store.DurableStore, bus *eventbus.Bus, log *logger.Logger) *Coordinator {
	return &Coordinator{store: st, bus: bus, log: log}
}

// SetRelay attaches a cross-process Postgres NOTIFY relay: every commit this
// Coordinator makes is also broadcast for peer processes sharing the same
// store to pick up (spec §4.5 "external durability comes from reading
// snapshots" — the relay is only a wakeup signal). Call once at startup when
// running against store.NewPostgresStore; leave nil for the in-memory store.
func (c *Coordinator) SetRelay(r *eventbus.Relay) { c.relay = r }

// Commit performs the CAS write (expected version snap.Version-1) and, on
// success, publishes a single FlowStatusChanged event carrying a clone of
// the snapshot; no per-step StepStatusChanged events are published — the
// engine's subscribers diff against their own last-seen copy. On any Save
// error, store.ErrVersionConflict included, it returns the error unmodified
// and publishes nothing.
func (c *Coordinator) Commit(ctx context.Context, snap *flow.Snapshot) error {
	expected := snap.Version - 1
	if err := c.store.Save(ctx, snap, expected); err != nil {
		metrics.CASConflicts.WithLabelValues(snap.FlowType).Inc()
		c.log.WithField("flow_id", snap.FlowID).WithField("expected_version", expected).
			Warn("persistence coordinator lost CAS race")
		return err
	}

	seq := c.bus.NextSeq(snap.FlowID)
	event := eventbus.Event{
		Type:    eventbus.EventFlowStatusChanged,
		FlowID:  snap.FlowID,
		Seq:     seq,
		Payload: snap.Clone(),
	}
	c.bus.Publish(event)

	if c.relay != nil {
		if err := c.relay.Broadcast(ctx, event); err != nil {
			c.log.WithField("flow_id", snap.FlowID).WithField("error", err).
				Warn("persistence coordinator: relay broadcast failed")
		}
	}

	if snap.Status.Terminal() {
		c.bus.Forget(snap.FlowID)
	}
	return nil
}

// Load rehydrates a single flow's latest committed snapshot, used by the
// engine's get()/list() surface and by the Restore Service.
func (c *Coordinator) Load(ctx context.Context, flowID string) (*flow.Snapshot, error) {
	return c.store.Load(ctx, flowID)
}

// List proxies to the store's filtered, paginated query (spec §6 list()).
func (c *Coordinator) List(ctx context.Context, filter store.Filter, page store.Page) ([]*flow.Snapshot, error) {
	return c.store.List(ctx, filter, page)
}

// ListNonTerminal is used by the Restore Service at startup (spec §4.6).
func (c *Coordinator) ListNonTerminal(ctx context.Context) ([]*flow.Snapshot, error) {
	return c.store.ListNonTerminal(ctx)
}

// Package restore implements the Restore Service (spec §4.8): on process
// start, scan the Durable Store for every non-terminal flow, rehydrate its
// Data Context and step definitions, and detect catalog drift before
// handing rehydrated flows back to the engine for re-scheduling.
package restore

import (
	"context"
	"fmt"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/internal/flowengine/catalog"
	"github.com/R3E-Network/flowengine/internal/flowengine/datacontext"
	"github.com/R3E-Network/flowengine/internal/flowengine/store"
	"github.com/R3E-Network/flowengine/pkg/engineerr"
	"github.com/R3E-Network/flowengine/pkg/logger"
)

// Rehydrated is everything the engine needs to resume driving one flow:
// the persisted snapshot, a DataContext seeded from its committed values,
// and the flattened step-definition map the scheduler dispatches against.
type Rehydrated struct {
	Snapshot *flow.Snapshot
	Data     *datacontext.DataContext
	Defs     map[string]flow.StepDefinition
}

// Drifted records a non-terminal flow whose persisted step sequence no
// longer matches the current catalog registration for its flow type
// (spec §4.8: "a step name on the snapshot with no matching catalog
// definition is catalog drift, not a crash").
type Drifted struct {
	FlowID      string
	FlowType    string
	MissingStep string
	// Snapshot is the persisted snapshot as loaded, so the caller can persist
	// the required Failed transition (spec §4.8: "the flow transitions to
	// Failed with lastError = catalog drift: <stepName>") without a second
	// store round-trip.
	Snapshot *flow.Snapshot
}

// Service scans the store at startup and rehydrates non-terminal flows.
type Service struct {
	catalog *catalog.Catalog
	store   store.DurableStore
	log     *logger.Logger
}

// New builds a restore Service over the process's catalog and store.
func New(cat *catalog.Catalog, st store.DurableStore, log *logger.Logger) *Service {
	return &Service{catalog: cat, store: st, log: log}
}

// Scan loads every non-terminal flow and attempts to rehydrate it. Flows
// whose flow type is unknown or whose persisted steps no longer match the
// registered catalog are reported as drift rather than rehydrated; the
// engine decides what to do with them (typically: fail them explicitly with
// CatalogDrift so an operator can inspect and resolve()).
func (s *Service) Scan(ctx context.Context) ([]Rehydrated, []Drifted, error) {
	snaps, err := s.store.ListNonTerminal(ctx)
	if err != nil {
		return nil, nil, engineerr.Wrap(engineerr.CodeEngineError, "restore: listing non-terminal flows", err)
	}

	var rehydrated []Rehydrated
	var drifted []Drifted

	for _, snap := range snaps {
		defs, err := s.catalog.Resolve(snap.FlowType)
		if err != nil {
			drifted = append(drifted, Drifted{FlowID: snap.FlowID, FlowType: snap.FlowType, MissingStep: "<unknown flow type>", Snapshot: snap})
			s.log.WithFlow(snap.FlowID, snap.FlowType).
				Warn("restore: unknown flow type, skipping rehydration")
			continue
		}

		flat := flattenDefs(defs)
		missing := ""
		for _, st := range snap.Steps {
			if _, ok := flat[st.Name]; !ok {
				missing = st.Name
				break
			}
		}
		if missing != "" {
			drifted = append(drifted, Drifted{FlowID: snap.FlowID, FlowType: snap.FlowType, MissingStep: missing, Snapshot: snap})
			logger.WithStep(s.log.WithFlow(snap.FlowID, snap.FlowType), missing, snap.Version).
				Warn("restore: catalog drift detected, skipping rehydration")
			continue
		}

		rehydrated = append(rehydrated, Rehydrated{
			Snapshot: snap,
			Data:     datacontext.FromSnapshot(snap.DataContext),
			Defs:     flat,
		})
	}

	return rehydrated, drifted, nil
}

// flattenDefs collects every step definition reachable from a flow type's
// top-level step sequence, including definitions nested inside branches at
// any depth, so a step already spliced into a persisted snapshot by a prior
// process resolves to its Execute function on rehydration.
func flattenDefs(defs []flow.StepDefinition) map[string]flow.StepDefinition {
	out := make(map[string]flow.StepDefinition)
	var walk func([]flow.StepDefinition)
	walk = func(ds []flow.StepDefinition) {
		for _, d := range ds {
			out[d.Name] = d
			for _, b := range d.Branches {
				walk(b.Steps)
			}
		}
	}
	walk(defs)
	return out
}

func (d Drifted) Error() string {
	return fmt.Sprintf("flow %s (%s): catalog drift at step %q", d.FlowID, d.FlowType, d.MissingStep)
}

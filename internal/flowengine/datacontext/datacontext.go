// Package datacontext implements the per-flow typed data context: a
// read-shared, write-serialized map of named values produced and consumed
// by steps (spec §4.2).
package datacontext

import (
	"sync"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/pkg/engineerr"
)

// DataContext is the live, in-memory data context for one flow instance.
// Reads observe the last committed state; writes are staged and only
// become visible when Commit is called by the scheduler as part of an
// atomic step-completion transition.
type DataContext struct {
	mu       sync.RWMutex
	values   map[string]flow.Value
	pending  map[string]flow.Value
	writers  map[string]string // key -> name of the step currently staging a write to it
}

// New builds a DataContext seeded with initial values (e.g. a flow's
// initialData at start()).
func New(initial map[string]flow.Value) *DataContext {
	values := make(map[string]flow.Value, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &DataContext{values: values, pending: make(map[string]flow.Value), writers: make(map[string]string)}
}

// FromSnapshot rehydrates a DataContext from a persisted snapshot map.
func FromSnapshot(m map[string]flow.Value) *DataContext {
	return New(m)
}

// Get implements flow.DataView: a read-consistent view.
func (d *DataContext) Get(key string) (flow.Value, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[key]
	return v, ok
}

// View returns a flow.DataView snapshotting the currently committed values,
// to be handed to a step at launch (spec §4.2: "a running step sees a
// read-consistent view captured at launch").
func (d *DataContext) View() flow.DataView {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := make(map[string]flow.Value, len(d.values))
	for k, v := range d.values {
		snap[k] = v
	}
	return staticView(snap)
}

type staticView map[string]flow.Value

func (s staticView) Get(key string) (flow.Value, bool) { v, ok := s[key]; return v, ok }

// Snapshot returns a serializable copy of the currently committed values.
func (d *DataContext) Snapshot() map[string]flow.Value {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]flow.Value, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// Stage registers a step's proposed writes ahead of commit. It returns
// ConflictingWrite if another step's writes already staged a value for any
// of the same keys and have not yet been committed or discarded.
func (d *DataContext) Stage(stepName string, writes map[string]flow.Value) error {
	if len(writes) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range writes {
		if owner, staged := d.writers[k]; staged && owner != stepName {
			return engineerr.New(engineerr.CodeConflictingWrite,
				"key "+k+" has conflicting staged writes from "+owner+" and "+stepName)
		}
	}
	for k, v := range writes {
		d.pending[k] = v
		d.writers[k] = stepName
	}
	return nil
}

// Commit applies a step's previously staged writes into the committed map.
// Called by the scheduler as part of an atomic step-completion transition.
func (d *DataContext) Commit(stepName string, keys []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		if owner, ok := d.writers[k]; ok && owner == stepName {
			if v, ok := d.pending[k]; ok {
				d.values[k] = v
			}
			delete(d.pending, k)
			delete(d.writers, k)
		}
	}
}

// Discard drops a step's staged writes without applying them (spec §4.2:
// "on any step failure, its proposed writes are discarded").
func (d *DataContext) Discard(stepName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, owner := range d.writers {
		if owner == stepName {
			delete(d.pending, k)
			delete(d.writers, k)
		}
	}
}

// ValidateDependencies checks that every declared data dependency is
// satisfied by the currently committed values (spec §4.3 runnable-set rule
// (c)).
func ValidateDependencies(d *DataContext, deps []flow.DataDependency) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, dep := range deps {
		v, ok := d.values[dep.Key]
		if !ok {
			return false
		}
		if !v.MatchesSchema(dep.ExpectedKind, dep.SchemaTag) {
			return false
		}
	}
	return true
}

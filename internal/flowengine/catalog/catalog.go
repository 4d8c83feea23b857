// Package catalog implements the process-wide Step Catalog: a registry of
// step definitions keyed by flow type, resolved by the scheduler when a flow
// is started or restored.
package catalog

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/pkg/engineerr"
)

// Catalog is the process-wide registry of step definitions. It is safe for
// concurrent use; registration is expected at startup, resolution happens on
// every flow start and restore.
type Catalog struct {
	mu      sync.RWMutex
	started bool
	byType  map[string][]flow.StepDefinition
	hashes  map[string]uint64
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		byType: make(map[string][]flow.StepDefinition),
		hashes: make(map[string]uint64),
	}
}

// MarkStarted freezes the catalog against redefinition of existing flow
// types; new flow types may still be registered afterward (spec §9: "Global
// state... Registration after the first start is permitted only for new
// flowTypes").
func (c *Catalog) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// Register adds the step definitions for a flow type. Re-registering the
// same flowType with identical definitions is a no-op; re-registering with
// different definitions fails with DuplicateRegistration.
func (c *Catalog) Register(flowType string, defs []flow.StepDefinition) error {
	if flowType == "" {
		return engineerr.New(engineerr.CodeEngineError, "flow type must not be empty")
	}
	if len(defs) == 0 {
		return engineerr.New(engineerr.CodeEngineError, "flow type must declare at least one step")
	}

	h := hashDefinitions(defs)

	c.mu.Lock()
	defer c.mu.Unlock()

	existingHash, exists := c.hashes[flowType]
	if exists {
		if existingHash == h {
			return nil
		}
		return engineerr.New(engineerr.CodeDuplicateRegistration,
			fmt.Sprintf("flow type %q already registered with different step definitions", flowType))
	}

	c.byType[flowType] = defs
	c.hashes[flowType] = h
	return nil
}

// Resolve returns the ordered step definitions for a flow type, or
// UnknownFlowType.
func (c *Catalog) Resolve(flowType string) ([]flow.StepDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	defs, ok := c.byType[flowType]
	if !ok {
		return nil, engineerr.New(engineerr.CodeUnknownFlowType, fmt.Sprintf("unknown flow type %q", flowType))
	}
	return defs, nil
}

// HasStep reports whether flowType declares a step named stepName in its
// static (top-level) step sequence; steps nested inside branches are not
// searched.
func (c *Catalog) HasStep(flowType, stepName string) bool {
	defs, err := c.Resolve(flowType)
	if err != nil {
		return false
	}
	for _, d := range defs {
		if d.Name == stepName {
			return true
		}
	}
	return false
}

// hashDefinitions fingerprints the static shape of a step-definition
// sequence (names, flags, dependencies, retry policy, branch shape) so two
// registrations can be compared for equivalence without reflecting over
// unexported function values.
func hashDefinitions(defs []flow.StepDefinition) uint64 {
	h := fnv.New64a()
	var write func([]flow.StepDefinition)
	write = func(ds []flow.StepDefinition) {
		for _, d := range ds {
			fmt.Fprintf(h, "%s|%v|%v|%v|%d|%d|%d|%d|%s|%v|%v|%v|",
				d.Name, d.IsCritical, d.IsIdempotent, d.CanRunInParallel,
				d.MaxRetries, d.RetryDelay, d.Timeout, d.Priority,
				d.ResourceGroup, d.StepDependencies, d.DataDependencies, d.AwaitTriggered)
			for _, b := range d.Branches {
				fmt.Fprintf(h, "[%s|%v|%v|%s|", b.Name, b.IsDefault, b.IsConditional, b.Condition)
				write(b.Steps)
				fmt.Fprint(h, "]")
			}
		}
	}
	write(defs)
	return h.Sum64()
}

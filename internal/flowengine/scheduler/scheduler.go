// Package scheduler implements the per-flow cooperative driver: runnable-set
// computation, branch selection/splicing, sub-flow triggering, retry policy,
// and the flow state machine (spec §4.3), generalized from the teacher's
// ticker-driven automation.Scheduler into a per-flow, event-driven driver.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/internal/flowengine/datacontext"
	"github.com/R3E-Network/flowengine/pkg/engineerr"
	"github.com/R3E-Network/flowengine/pkg/logger"
)

// Host is what the scheduler needs from its embedding engine: committing a
// transition durably and publishing the resulting events, and starting
// child flows for sub-flow triggering. The scheduler itself never touches
// the Durable Store or Event Bus directly (spec §4.4's "Persistence
// Coordinator" owns that).
type Host interface {
	// Commit durably persists the given snapshot as the next version and
	// publishes the appropriate events. It must fail with
	// store.ErrVersionConflict if another writer committed first.
	Commit(ctx context.Context, snap *flow.Snapshot) error
	// StartChildFlow creates a new flow instance of flowType, inheriting
	// correlationId from the parent, and returns its id.
	StartChildFlow(ctx context.Context, flowType, correlationID, userID string, triggeredBy flow.TriggerRef) (string, error)
	// MaxBranchDepth is the configured nesting cap (spec §9).
	MaxBranchDepth() int
}

// Scheduler is the single-writer cooperative driver for one flow instance.
// All exported methods acquire the flow's lock internally and are safe to
// call from any goroutine; they execute one at a time in the order called.
type Scheduler struct {
	mu   sync.Mutex
	// tickMu serializes Tick end-to-end (runnable computation through
	// dispatch) so concurrent callers (the outer tick loop, a resumed
	// await, the retry service) never compute the runnable set twice
	// against the same Pending step.
	tickMu sync.Mutex
	host   Host
	log    *logger.Logger

	snap *flow.Snapshot
	data *datacontext.DataContext
	defs map[string]flow.StepDefinition // step name -> definition (incl. spliced branch steps)

	cancelSignals map[string]chan struct{} // stepName -> close to request cancellation

	// cancelPending is set by Cancel while a step is still InProgress: the
	// flow itself does not transition to Cancelled until that step returns
	// (spec §5: "the currently running step is signaled and, on return...
	// the flow transitions to Cancelled"). onStepFinished checks this flag
	// and finishes the transition once every signaled step has returned.
	cancelPending bool
	cancelReason  string

	awaiting map[string][]string // parent step name -> child flow ids still pending (awaitTriggered)
}

// New constructs a Scheduler over an in-memory snapshot and data context
// already built for a flow (either freshly created by start() or rehydrated
// by the Restore Service). defs must contain every step name currently on
// the snapshot, plus the catalog's top-level step definitions for flowType
// (branch-spliced definitions are registered as branches are selected).
func New(host Host, log *logger.Logger, snap *flow.Snapshot, data *datacontext.DataContext, defs map[string]flow.StepDefinition) *Scheduler {
	return &Scheduler{
		host:          host,
		log:           log,
		snap:          snap,
		data:          data,
		defs:          defs,
		cancelSignals: make(map[string]chan struct{}),
		awaiting:      make(map[string][]string),
	}
}

// Snapshot returns a defensive copy of the current flow snapshot.
func (s *Scheduler) Snapshot() *flow.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

func (s *Scheduler) now() time.Time { return time.Now().UTC() }

// Start performs the required Initializing -> Ready -> Running transition
// and runs the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.snap.Status != flow.StatusInitializing {
		s.mu.Unlock()
		return engineerr.InvalidTransition("flow is not Initializing")
	}
	now := s.now()
	s.snap.Status = flow.StatusReady
	s.snap.AppendEvent("FlowReady", "flow initialized", now)
	s.snap.Status = flow.StatusRunning
	s.snap.StartedAt = &now
	s.snap.AppendEvent("FlowStarted", "flow entered Running", now)
	s.mu.Unlock()

	if err := s.commitLocked(ctx); err != nil {
		return err
	}
	return s.Tick(ctx)
}

// commitLocked snapshots+commits the current in-memory state. Caller must
// NOT hold s.mu (Commit may call back into the host, which is not
// reentrant-safe with our own lock).
func (s *Scheduler) commitLocked(ctx context.Context) error {
	s.mu.Lock()
	snap := s.snap.Clone()
	s.mu.Unlock()

	snap.DataContext = s.data.Snapshot()
	snap.Version++

	if err := s.host.Commit(ctx, snap); err != nil {
		return err
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// Tick evaluates the runnable set and launches eligible steps. It is safe
// to call repeatedly and from multiple goroutines; calls are serialized by
// tickMu so the runnable set is never computed against a step another
// caller is concurrently about to launch.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.tickLocked(ctx)
}

func (s *Scheduler) tickLocked(ctx context.Context) error {
	s.mu.Lock()
	if s.snap.Status != flow.StatusRunning {
		s.mu.Unlock()
		return nil
	}
	runnable := s.runnableSetLocked()
	s.mu.Unlock()

	if len(runnable) == 0 {
		return s.maybeFinalize(ctx)
	}

	// Launch order is descending priority, tie-broken by catalog order
	// (index); parallel-eligible steps launch concurrently, others one at a
	// time honoring resourceGroup exclusion already filtered into runnable.
	var wg sync.WaitGroup
	for _, name := range runnable {
		name := name
		s.markInProgress(name)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runStep(ctx, name)
		}()
		if !s.isParallel(name) {
			wg.Wait()
		}
	}
	wg.Wait()

	return s.tickLocked(ctx)
}

// runnableSetLocked computes the runnable set per spec §4.3. Caller must
// hold s.mu.
func (s *Scheduler) runnableSetLocked() []string {
	inProgressByGroup := make(map[string]bool)
	for _, st := range s.snap.Steps {
		if st.Status == flow.StepInProgress && st.ResourceGroup != "" {
			inProgressByGroup[st.ResourceGroup] = true
		}
	}

	var candidates []flow.StepInstance
	for _, st := range s.snap.Steps {
		if st.Status != flow.StepPending {
			continue
		}
		if !s.dependenciesSatisfiedLocked(st) {
			continue
		}
		if !datacontext.ValidateDependencies(s.data, st.DataDependencies) {
			continue
		}
		if !st.CanRunInParallel && st.ResourceGroup != "" && inProgressByGroup[st.ResourceGroup] {
			continue
		}
		candidates = append(candidates, st)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Index < candidates[j].Index
	})

	names := make([]string, 0, len(candidates))
	seenGroup := make(map[string]bool)
	for _, c := range candidates {
		if !c.CanRunInParallel && c.ResourceGroup != "" {
			if seenGroup[c.ResourceGroup] {
				continue
			}
			seenGroup[c.ResourceGroup] = true
		}
		names = append(names, c.Name)
	}
	return names
}

func (s *Scheduler) dependenciesSatisfiedLocked(st flow.StepInstance) bool {
	for _, dep := range st.StepDependencies {
		other := s.snap.StepByName(dep)
		if other == nil || !other.Status.SatisfiesDependency() {
			return false
		}
	}
	return true
}

func (s *Scheduler) isParallel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.snap.StepByName(name); st != nil {
		return st.CanRunInParallel
	}
	return false
}

func (s *Scheduler) markInProgress(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.snap.StepByName(name); st != nil {
		st.Status = flow.StepInProgress
		st.Attempts++
		s.snap.CurrentStepName = name
		s.snap.AppendEvent("StepStarted", name, s.now())
	}
	s.cancelSignals[name] = make(chan struct{})
}

func (s *Scheduler) def(name string) *flow.StepInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.snap.StepByName(name); st != nil {
		cp := *st
		return &cp
	}
	return nil
}

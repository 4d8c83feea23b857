package scheduler

import (
	"context"
	"time"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/pkg/engineerr"
	"github.com/R3E-Network/flowengine/pkg/logger"
)

// runStep executes one step to completion (or timeout/cancellation) and
// applies its result via an atomic commit. It never runs concurrently for
// the same step name (Tick only launches Pending steps once).
func (s *Scheduler) runStep(ctx context.Context, name string) {
	def, ok := s.defs[name]
	if !ok {
		s.failFlow(ctx, engineerr.CatalogDrift(name).Error())
		return
	}
	inst := s.def(name)
	if inst == nil {
		return
	}

	stepCtx := ctx
	var cancelTimer *time.Timer
	if inst.Timeout > 0 {
		var cancelFn context.CancelFunc
		stepCtx, cancelFn = context.WithTimeout(ctx, inst.Timeout)
		defer cancelFn()
		_ = cancelTimer
	}

	s.mu.Lock()
	cancelCh := s.cancelSignals[name]
	attempt := inst.Attempts
	s.mu.Unlock()

	view := s.data.View()
	execCtx := flow.ExecContext{
		FlowID:        s.snapshotFlowID(),
		FlowType:      s.snapshotFlowType(),
		Data:          view,
		Cancel:        cancelCh,
		AttemptNumber: attempt,
	}

	resultCh := make(chan flow.StepResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- flow.StepResult{IsSuccess: false, Error: &flow.StepError{Kind: flow.ErrorKindInternal, Message: "step panicked"}}
			}
		}()
		if def.Execute == nil {
			resultCh <- flow.StepResult{IsSuccess: true}
			return
		}
		resultCh <- def.Execute(execCtx)
	}()

	var result flow.StepResult
	select {
	case result = <-resultCh:
	case <-stepCtx.Done():
		result = flow.StepResult{IsSuccess: false, Error: &flow.StepError{Kind: flow.ErrorKindTimeout, Message: "step timed out"}}
	}

	s.onStepFinished(ctx, name, result)
}

func (s *Scheduler) snapshotFlowID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.FlowID
}

func (s *Scheduler) snapshotFlowType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.FlowType
}

// onStepFinished applies a step result, advances branch selection, maybe
// triggers sub-flows, and commits the whole transition atomically
// (spec §4.3, §4.4).
func (s *Scheduler) onStepFinished(ctx context.Context, name string, result flow.StepResult) {
	s.mu.Lock()
	inst := s.snap.StepByName(name)
	if inst == nil || s.snap.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	delete(s.cancelSignals, name)

	if s.cancelPending {
		// A cancel was requested while this step (or a sibling running in
		// parallel) was still InProgress; the step's own result no longer
		// matters (spec §5: "on return, regardless of outcome"). Finalize
		// Cancelled once every signaled step has returned.
		inst.Status = flow.StepSkipped
		s.snap.AppendEvent("StepSkipped", name+" (cancelled)", s.now())
		s.data.Discard(name)
		if len(s.cancelSignals) == 0 {
			reason := s.cancelReason
			s.snap.Status = flow.StatusCancelled
			s.snap.LastError = reason
			s.snap.CompletedAt = ptrTime(s.now())
			s.snap.AppendEvent("FlowCancelled", reason, s.now())
			s.cancelPending = false
		}
		s.mu.Unlock()
		if err := s.commitLocked(ctx); err != nil {
			s.reloadOnConflict(ctx)
		}
		return
	}

	if !result.IsSuccess || result.Error != nil {
		s.applyFailureLocked(inst, result)
		s.mu.Unlock()
		s.data.Discard(name)
		if err := s.commitLocked(ctx); err != nil {
			s.reloadOnConflict(ctx)
		}
		return
	}

	// Success: stage then commit the data-context writes as part of the
	// same atomic transition (spec §4.2: "writes are applied atomically at
	// step completion").
	if err := s.data.Stage(name, result.Data); err != nil {
		inst.Status = flow.StepFailed
		inst.Error = &flow.StepError{Kind: flow.ErrorKindInternal, Message: err.Error()}
		s.snap.Status = flow.StatusFailed
		s.snap.LastError = err.Error()
		s.snap.AppendEvent("StepFailed", name+": "+err.Error(), s.now())
		s.mu.Unlock()
		s.data.Discard(name)
		_ = s.commitLocked(ctx)
		return
	}
	keys := make([]string, 0, len(result.Data))
	for k := range result.Data {
		keys = append(keys, k)
	}
	s.data.Commit(name, keys)
	inst.Result = &result

	// A step declaring awaitTriggered with at least one triggered flow stays
	// InProgress: it does not reach Completed, emit StepCompleted, or
	// advance into branch selection until NotifyChildTerminal observes every
	// named child reach a terminal status (spec §4.3: "the parent step
	// remains InProgress... until all named children reach terminal
	// status"). Completion is finished there, not here.
	if inst.AwaitTriggered && len(result.TriggeredFlows) > 0 {
		parentName := name
		s.mu.Unlock()

		s.triggerChildren(ctx, parentName, result.TriggeredFlows)

		if err := s.commitLocked(ctx); err != nil {
			s.reloadOnConflict(ctx)
			return
		}
		s.pauseForAwait(ctx, parentName)
		return
	}

	inst.Status = flow.StepCompleted
	s.snap.AppendEvent("StepCompleted", name, s.now())
	s.advanceIndexLocked()

	branchErr := s.selectBranchLocked(inst)
	if branchErr != nil {
		s.failFlowLocked(branchErr.Error())
		s.mu.Unlock()
		_ = s.commitLocked(ctx)
		return
	}

	fireAndForget := len(result.TriggeredFlows) > 0
	parentName := name
	s.mu.Unlock()

	if fireAndForget {
		s.triggerChildren(ctx, parentName, result.TriggeredFlows)
	}

	if err := s.commitLocked(ctx); err != nil {
		s.reloadOnConflict(ctx)
		return
	}
	// No recursive Tick here: this method runs inside a goroutine the
	// enclosing tickLocked() is waiting on via wg.Wait(); tickLocked
	// itself re-evaluates the runnable set once every launched step
	// returns (see scheduler.go Tick/tickLocked).
}

// applyFailureLocked applies retry policy to a failed step (spec §4.3).
// Caller holds s.mu.
func (s *Scheduler) applyFailureLocked(inst *flow.StepInstance, result flow.StepResult) {
	inst.Error = result.Error
	if inst.Error == nil {
		inst.Error = &flow.StepError{Kind: flow.ErrorKindBusiness, Message: result.Message}
	}
	s.snap.AppendEvent("StepFailed", inst.Name+": "+inst.Error.Message, s.now())

	if inst.Error.Retryable() && inst.Attempts < inst.MaxRetries {
		resumeAt := s.now().Add(inst.RetryDelay)
		inst.Status = flow.StepPaused
		inst.ResumeAt = &resumeAt
		s.snap.Status = flow.StatusPaused
		s.snap.PauseReason = flow.PauseReasonRetryBackoff
		s.snap.PausedAt = ptrTime(s.now())
		s.snap.AppendEvent("StepRetryScheduled", inst.Name, s.now())
		return
	}

	inst.Status = flow.StepFailed
	if inst.IsCritical {
		s.failFlowLocked(inst.Error.Message)
		return
	}
	inst.Status = flow.StepSkipped
	s.snap.AppendEvent("StepSkipped", inst.Name+" (non-critical failure)", s.now())
	s.advanceIndexLocked()
}

func (s *Scheduler) failFlow(ctx context.Context, message string) {
	s.mu.Lock()
	s.failFlowLocked(message)
	s.mu.Unlock()
	_ = s.commitLocked(ctx)
}

func (s *Scheduler) failFlowLocked(message string) {
	s.snap.Status = flow.StatusFailed
	s.snap.LastError = message
	s.snap.CompletedAt = ptrTime(s.now())
	s.snap.AppendEvent("FlowFailed", message, s.now())
}

func (s *Scheduler) advanceIndexLocked() {
	if s.snap.CurrentStepIndex < s.snap.TotalSteps {
		s.snap.CurrentStepIndex++
	}
}

// reloadOnConflict logs a lost CAS race and nothing more: it does not reload
// the snapshot from the store, and the in-memory snapshot keeps its
// uncommitted changes and its already-incremented version.
func (s *Scheduler) reloadOnConflict(ctx context.Context) {
	s.mu.Lock()
	version := s.snap.Version
	current := s.snap.CurrentStepName
	s.mu.Unlock()
	logger.WithStep(s.log.WithFlow(s.snapshotFlowID(), s.snapshotFlowType()), current, version).
		Warn("scheduler lost CAS race; in-memory state not reloaded")
}

func ptrTime(t time.Time) *time.Time { return &t }

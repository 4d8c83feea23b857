package scheduler

import (
	"context"
	"strings"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/pkg/engineerr"
)

// Pause suspends a Running flow at the next step boundary (spec §5:
// "suspend only at step boundaries").
func (s *Scheduler) Pause(ctx context.Context, message string) error {
	s.mu.Lock()
	if s.snap.Status != flow.StatusRunning {
		s.mu.Unlock()
		return engineerr.InvalidTransition("flow is not Running")
	}
	s.snap.Status = flow.StatusPaused
	s.snap.PauseReason = flow.PauseReasonOperator
	s.snap.PauseMessage = message
	s.snap.PausedAt = ptrTime(s.now())
	s.snap.AppendEvent("FlowPaused", message, s.now())
	s.mu.Unlock()
	return s.commitLocked(ctx)
}

// Resume re-enters a Paused flow and ticks it.
func (s *Scheduler) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.snap.Status != flow.StatusPaused {
		s.mu.Unlock()
		return engineerr.InvalidTransition("flow is not Paused")
	}
	// Any step still Paused with a resumeAt (retry backoff) becomes Pending
	// again so the next tick can re-launch it.
	for i := range s.snap.Steps {
		if s.snap.Steps[i].Status == flow.StepPaused {
			s.snap.Steps[i].Status = flow.StepPending
			s.snap.Steps[i].ResumeAt = nil
		}
	}
	s.snap.Status = flow.StatusRunning
	s.snap.PauseReason = ""
	s.snap.PauseMessage = ""
	s.snap.AppendEvent("FlowResumed", "operator resume", s.now())
	s.mu.Unlock()

	if err := s.commitLocked(ctx); err != nil {
		return err
	}
	return s.Tick(ctx)
}

// Cancel signals cancellation to any in-flight step. If no step is
// InProgress, the flow transitions to Cancelled immediately. Otherwise the
// transition is deferred: onStepFinished applies it once every signaled
// step actually returns (spec §5: "the currently running step is signaled
// and, on return... the flow transitions to Cancelled" — never while it is
// still executing, since the §3 invariant forbids a terminal flow with a
// non-terminal step instance).
func (s *Scheduler) Cancel(ctx context.Context, reason string) error {
	s.mu.Lock()
	if s.snap.Status.Terminal() {
		s.mu.Unlock()
		return engineerr.InvalidTransition("flow is already terminal")
	}
	if s.cancelPending {
		s.mu.Unlock()
		return engineerr.InvalidTransition("flow cancellation already in progress")
	}

	for _, ch := range s.cancelSignals {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
	for i := range s.snap.Steps {
		st := &s.snap.Steps[i]
		switch {
		case st.Status == flow.StepPending || st.Status == flow.StepPaused:
			st.Status = flow.StepSkipped
		case st.Status == flow.StepInProgress:
			if _, executing := s.cancelSignals[st.Name]; !executing {
				// InProgress with no live cancel signal: the step's own
				// execution already returned and it is only waiting on
				// triggered child flows (awaitTriggered). There is nothing
				// further to wait on here, so it can be skipped directly.
				st.Status = flow.StepSkipped
				delete(s.awaiting, st.Name)
			}
		}
	}

	if len(s.cancelSignals) == 0 {
		s.snap.Status = flow.StatusCancelled
		s.snap.LastError = reason
		s.snap.CompletedAt = ptrTime(s.now())
		s.snap.AppendEvent("FlowCancelled", reason, s.now())
		s.mu.Unlock()
		return s.commitLocked(ctx)
	}

	s.cancelPending = true
	s.cancelReason = reason
	s.snap.AppendEvent("FlowCancelRequested", reason, s.now())
	s.mu.Unlock()
	return s.commitLocked(ctx)
}

// Retry re-enters a Failed flow by resetting its failing step(s) to Pending
// and clearing lastError, bounded by maxRetries (spec §4.3).
func (s *Scheduler) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.snap.Status != flow.StatusFailed {
		s.mu.Unlock()
		return engineerr.InvalidTransition("flow is not Failed")
	}
	resettable := false
	for i := range s.snap.Steps {
		st := &s.snap.Steps[i]
		if st.Status == flow.StepFailed && st.Attempts <= st.MaxRetries {
			st.Status = flow.StepPending
			st.Error = nil
			resettable = true
		}
	}
	if !resettable {
		s.mu.Unlock()
		return engineerr.New(engineerr.CodeInvalidTransition, "no step is eligible for retry")
	}
	s.snap.Status = flow.StatusRunning
	s.snap.LastError = ""
	s.snap.CompletedAt = nil
	s.snap.AppendEvent("FlowRetried", "operator retry", s.now())
	s.mu.Unlock()

	if err := s.commitLocked(ctx); err != nil {
		return err
	}
	return s.Tick(ctx)
}

// Resolve is an administrative force-complete for a Failed flow: remaining
// Pending steps are marked Skipped (spec §9 decision, not Completed, for
// auditability), and a synthetic ManuallyResolved event is emitted
// (spec §7: "resolve requires a reason and is logged").
func (s *Scheduler) Resolve(ctx context.Context, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return engineerr.New(engineerr.CodeEngineError, "resolve requires a non-empty reason")
	}
	s.mu.Lock()
	if s.snap.Status != flow.StatusFailed {
		s.mu.Unlock()
		return engineerr.InvalidTransition("flow is not Failed")
	}
	for i := range s.snap.Steps {
		if !s.snap.Steps[i].Status.Terminal() {
			s.snap.Steps[i].Status = flow.StepSkipped
		}
	}
	s.snap.Status = flow.StatusCompleted
	s.snap.LastError = ""
	s.snap.CompletedAt = ptrTime(s.now())
	s.snap.AppendEvent("ManuallyResolved", reason, s.now())
	s.mu.Unlock()
	return s.commitLocked(ctx)
}

// maybeFinalize marks the flow Completed if every step has reached a
// terminal status and nothing is Paused/InProgress.
func (s *Scheduler) maybeFinalize(ctx context.Context) error {
	s.mu.Lock()
	if s.snap.Status != flow.StatusRunning {
		s.mu.Unlock()
		return nil
	}
	allTerminal := true
	for _, st := range s.snap.Steps {
		if !st.Status.Terminal() {
			allTerminal = false
			break
		}
	}
	if !allTerminal {
		s.mu.Unlock()
		return nil
	}
	s.snap.Status = flow.StatusCompleted
	s.snap.CompletedAt = ptrTime(s.now())
	s.snap.AppendEvent("FlowCompleted", "all steps terminal", s.now())
	s.mu.Unlock()
	return s.commitLocked(ctx)
}

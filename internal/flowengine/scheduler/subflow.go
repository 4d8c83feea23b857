package scheduler

import (
	"context"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
)

// triggerChildren starts each requested child flow fire-and-forget,
// recording the resulting ids on the parent step (spec §4.3 "Sub-flow
// triggering"). If the parent step declared awaitTriggered, the child ids
// are also tracked in s.awaiting, which NotifyChildTerminal counts down.
func (s *Scheduler) triggerChildren(ctx context.Context, parentStep string, requests []flow.TriggerRequest) {
	s.mu.Lock()
	inst := s.snap.StepByName(parentStep)
	correlationID := s.snap.CorrelationID
	userID := s.snap.UserID
	flowID := s.snap.FlowID
	awaitTriggered := inst != nil && inst.AwaitTriggered
	s.mu.Unlock()

	for _, req := range requests {
		childID, err := s.host.StartChildFlow(ctx, req.FlowType, correlationID, userID, flow.TriggerRef{
			FlowID:          flowID,
			TriggeredByStep: parentStep,
			Type:            req.FlowType,
		})

		s.mu.Lock()
		if inst := s.snap.StepByName(parentStep); inst != nil {
			tf := flow.TriggeredFlow{FlowType: req.FlowType, TriggeredByStep: parentStep}
			if err == nil {
				tf.FlowID = childID
				tf.Status = flow.StatusInitializing
			}
			inst.TriggeredFlows = append(inst.TriggeredFlows, tf)
		}
		if err == nil && awaitTriggered {
			s.awaiting[parentStep] = append(s.awaiting[parentStep], childID)
		}
		s.mu.Unlock()
	}
}

// pauseForAwait suspends the flow with reason AwaitingChildFlow and commits.
// Resumption happens in NotifyChildTerminal, which the engine calls from its
// admin bus subscription as children reach terminal status.
func (s *Scheduler) pauseForAwait(ctx context.Context, parentStep string) {
	s.mu.Lock()
	s.snap.Status = flow.StatusPaused
	s.snap.PauseReason = flow.PauseReasonAwaitingChild
	s.snap.PauseMessage = "awaiting child flows triggered by " + parentStep
	s.snap.PausedAt = ptrTime(s.now())
	s.snap.AppendEvent("FlowPaused", s.snap.PauseMessage, s.now())
	s.mu.Unlock()
	_ = s.commitLocked(ctx)
}

// NotifyChildTerminal is called by the engine layer (subscribed on the
// Event Bus) whenever a child flow reaches a terminal status. Once every
// child spawned by an awaitTriggered step has reached terminal status, the
// parent step completes and the flow resumes automatically (spec §4.3,
// §9 "Event-driven control flow").
func (s *Scheduler) NotifyChildTerminal(ctx context.Context, childFlowID string, childStatus flow.Status) {
	s.mu.Lock()
	var readyParent string
	for parent, children := range s.awaiting {
		remaining := children[:0]
		for _, c := range children {
			if c == childFlowID {
				continue
			}
			remaining = append(remaining, c)
		}
		s.awaiting[parent] = remaining
		if inst := s.snap.StepByName(parent); inst != nil {
			for i := range inst.TriggeredFlows {
				if inst.TriggeredFlows[i].FlowID == childFlowID {
					inst.TriggeredFlows[i].Status = childStatus
				}
			}
		}
		if len(remaining) == 0 {
			delete(s.awaiting, parent)
			readyParent = parent
		}
	}

	var branchErr error
	if readyParent != "" {
		// The awaited step only now reaches Completed: branch selection was
		// deferred from onStepFinished until every named child flow reached
		// a terminal status (spec §4.3).
		if inst := s.snap.StepByName(readyParent); inst != nil && inst.Status != flow.StepCompleted {
			inst.Status = flow.StepCompleted
			s.snap.AppendEvent("StepCompleted", readyParent+" (children complete)", s.now())
			s.advanceIndexLocked()
			branchErr = s.selectBranchLocked(inst)
		}
		if branchErr != nil {
			s.failFlowLocked(branchErr.Error())
		} else {
			s.snap.Status = flow.StatusRunning
			s.snap.PauseReason = ""
			s.snap.PauseMessage = ""
			s.snap.AppendEvent("FlowResumed", "all awaited children reached terminal status", s.now())
		}
	}
	s.mu.Unlock()

	if readyParent == "" {
		return
	}
	if err := s.commitLocked(ctx); err != nil {
		s.reloadOnConflict(ctx)
		return
	}
	_ = s.Tick(ctx)
}

package scheduler

import (
	"strconv"
	"strings"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/pkg/engineerr"
)

// selectBranchLocked evaluates inst's branches (if any) against the data
// context, splices the chosen branch's steps into the flow sequence, and
// marks unchosen branches' steps Skipped (spec §4.3 "Branch selection").
// inst.BranchDepth tracks nesting for the BranchNestingExceeded cap
// (spec §9): each spliced step inherits its parent's depth + 1. Caller
// holds s.mu.
func (s *Scheduler) selectBranchLocked(inst *flow.StepInstance) error {
	if len(inst.Branches) == 0 {
		return nil
	}
	if inst.BranchDepth >= s.host.MaxBranchDepth() {
		return engineerr.New(engineerr.CodeBranchNestingExceeded,
			"branch nesting exceeded configured maximum for step "+inst.Name)
	}

	var chosen *flow.Branch
	for i := range inst.Branches {
		b := &inst.Branches[i]
		if b.IsConditional && evaluateCondition(b.Condition, s.data) {
			chosen = b
			break
		}
	}
	if chosen == nil {
		for i := range inst.Branches {
			if inst.Branches[i].IsDefault {
				chosen = &inst.Branches[i]
				break
			}
		}
	}
	if chosen == nil {
		return engineerr.New(engineerr.CodeBranchSelectionFailed,
			"no conditional branch matched and no default branch declared on step "+inst.Name)
	}

	insertAt := inst.Index + 1
	for _, def := range chosen.Steps {
		s.defs[def.Name] = def
		newInst := flow.FromDefinition(def, insertAt)
		newInst.BranchDepth = inst.BranchDepth + 1
		s.snap.Steps = append(s.snap.Steps, flow.StepInstance{})
		copy(s.snap.Steps[insertAt+1:], s.snap.Steps[insertAt:len(s.snap.Steps)-1])
		s.snap.Steps[insertAt] = newInst
		for i := insertAt + 1; i < len(s.snap.Steps); i++ {
			s.snap.Steps[i].Index = i
		}
		s.snap.TotalSteps++
		insertAt++
	}

	for i := range inst.Branches {
		b := &inst.Branches[i]
		if b == chosen {
			continue
		}
		for _, def := range b.Steps {
			skipped := flow.FromDefinition(def, -1)
			skipped.Status = flow.StepSkipped
			s.snap.Steps = append(s.snap.Steps, skipped)
			s.snap.TotalSteps++
			s.snap.AppendEvent("StepSkipped", def.Name+" (unchosen branch "+b.Name+")", s.now())
		}
	}

	s.snap.AppendEvent("BranchSelected", inst.Name+" -> "+chosen.Name, s.now())
	return nil
}

// evaluateCondition evaluates a minimal predicate language over the data
// context: "<key> > <number>" / "<key> >= <number>" / "<key> == <value>" /
// bare "<key>" for truthy bool values. Branch conditions are pure
// predicates over the Data Context (spec §9).
func evaluateCondition(cond string, data interface {
	Get(key string) (flow.Value, bool)
}) bool {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return false
	}
	for _, op := range []string{">=", "<=", "==", ">", "<"} {
		if idx := strings.Index(cond, op); idx >= 0 {
			key := strings.TrimSpace(cond[:idx])
			rhs := strings.TrimSpace(cond[idx+len(op):])
			v, ok := data.Get(key)
			if !ok {
				return false
			}
			return compare(v, op, rhs)
		}
	}
	// bare key: true if present and boolean-true
	v, ok := data.Get(cond)
	return ok && v.Kind == flow.KindBool && v.Bool
}

func compare(v flow.Value, op, rhs string) bool {
	var left float64
	switch v.Kind {
	case flow.KindInt:
		left = float64(v.Int)
	case flow.KindDecimal:
		if v.Dec != nil {
			left = v.Dec.Float64()
		}
	case flow.KindBool:
		if op == "==" {
			rb, err := strconv.ParseBool(rhs)
			return err == nil && v.Bool == rb
		}
		return false
	case flow.KindString:
		if op == "==" {
			return v.Str == strings.Trim(rhs, `"`)
		}
		return false
	default:
		return false
	}
	right, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false
	}
	switch op {
	case ">":
		return left > right
	case ">=":
		return left >= right
	case "<":
		return left < right
	case "<=":
		return left <= right
	case "==":
		return left == right
	default:
		return false
	}
}

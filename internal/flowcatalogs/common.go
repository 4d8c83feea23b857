package flowcatalogs

import "github.com/R3E-Network/flowengine/internal/domain/flow"

// opaqueSuccess is a placeholder step body: real step implementations are
// supplied by the business application registering the flow type, not by
// the engine itself.
func opaqueSuccess(ctx flow.ExecContext) flow.StepResult {
	return flow.StepResult{IsSuccess: true}
}

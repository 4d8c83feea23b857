// Package flowcatalogs provides illustrative step catalogs for the flow
// types a crypto investment platform runs through the engine: KYC,
// subscription, payment-retry, and withdrawal. Each step's business logic
// is intentionally opaque — these exist to exercise the engine's dependency
// resolution, branching, and retry machinery in tests, not to model real
// provider integrations (spec.md §1 Non-goals: "payment/KYC provider
// adapters... out of scope").
package flowcatalogs

import (
	"time"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
)

// KYCFlowType is the catalog key for the identity-verification flow.
const KYCFlowType = "KYC"

// KYCSteps returns the step catalog for the KYC flow type: collect
// documents, run automated checks (possibly branching to manual review),
// then finalize.
func KYCSteps() []flow.StepDefinition {
	return []flow.StepDefinition{
		{
			Name:       "CollectDocuments",
			IsCritical: true,
			MaxRetries: 2,
			RetryDelay: 5 * time.Second,
			Timeout:    30 * time.Second,
			Execute:    opaqueSuccess,
		},
		{
			Name:             "AutomatedCheck",
			IsCritical:       true,
			StepDependencies: []string{"CollectDocuments"},
			MaxRetries:       3,
			RetryDelay:       10 * time.Second,
			Timeout:          20 * time.Second,
			Execute:          opaqueSuccess,
			Branches: []flow.Branch{
				{
					Name:          "needsManualReview",
					IsConditional: true,
					Condition:     "riskScore >= 70",
					Steps: []flow.StepDefinition{
						{Name: "ManualReview", IsCritical: true, Timeout: 72 * time.Hour, Execute: opaqueSuccess},
					},
				},
				{
					Name:      "autoApproved",
					IsDefault: true,
					Steps: []flow.StepDefinition{
						{Name: "AutoApprove", IsCritical: true, Execute: opaqueSuccess},
					},
				},
			},
		},
		{
			// Depends on both branch leaves, not just AutomatedCheck: whichever
			// branch wasn't chosen is marked Skipped at selection time, which
			// also satisfies a stepDependencies entry, so this still only waits
			// on the one branch that actually ran.
			Name:             "FinalizeVerification",
			IsCritical:       true,
			StepDependencies: []string{"ManualReview", "AutoApprove"},
			Execute:          opaqueSuccess,
		},
	}
}

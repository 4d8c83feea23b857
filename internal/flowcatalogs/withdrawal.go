package flowcatalogs

import (
	"time"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
)

// WithdrawalFlowType is the catalog key for the funds-withdrawal flow.
const WithdrawalFlowType = "Withdrawal"

// WithdrawalSteps returns the step catalog for the Withdrawal flow type:
// a compliance hold, then a ledger debit in resource group "ledger-account"
// (exclusive only against other steps of that group within the same flow;
// other withdrawal flows are not excluded), then a
// branch on withdrawal size routing large withdrawals to manual sign-off.
func WithdrawalSteps() []flow.StepDefinition {
	return []flow.StepDefinition{
		{
			Name:       "ComplianceHold",
			IsCritical: true,
			Timeout:    10 * time.Second,
			Execute:    opaqueSuccess,
		},
		{
			Name:             "DebitLedger",
			IsCritical:       true,
			IsIdempotent:     true,
			StepDependencies: []string{"ComplianceHold"},
			ResourceGroup:    "ledger-account",
			MaxRetries:       2,
			RetryDelay:       3 * time.Second,
			Timeout:          10 * time.Second,
			Execute:          opaqueSuccess,
			Branches: []flow.Branch{
				{
					Name:          "largeWithdrawal",
					IsConditional: true,
					Condition:     "amount >= 10000",
					Steps: []flow.StepDefinition{
						{Name: "ManualSignOff", IsCritical: true, Timeout: 48 * time.Hour, Execute: opaqueSuccess},
					},
				},
				{
					Name:      "standardWithdrawal",
					IsDefault: true,
					Steps: []flow.StepDefinition{
						{Name: "ReleaseFunds", IsCritical: true, Execute: opaqueSuccess},
					},
				},
			},
		},
		{
			Name:             "NotifyAccountHolderOfWithdrawal",
			IsCritical:       false,
			StepDependencies: []string{"ManualSignOff", "ReleaseFunds"},
			Execute:          opaqueSuccess,
		},
	}
}
